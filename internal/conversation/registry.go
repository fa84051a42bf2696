// Package conversation runs the WhatsApp assistant: the tool registry the
// model calls into, the Gemini function-calling loop, reply rendering and the
// inbound message processor.
package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/salon-booking-bot/internal/booking"
	"github.com/wolfman30/salon-booking-bot/internal/clients"
	"github.com/wolfman30/salon-booking-bot/internal/messaging"
	"github.com/wolfman30/salon-booking-bot/internal/tenancy"
)

// Session is everything a tool call may act on. A tool never reaches outside
// Session.Tenant.
type Session struct {
	Tenant       tenancy.Tenant
	Client       clients.Client
	Conversation messaging.Conversation
	Now          time.Time
	// Services is the tenant catalogue shown in the prompt. It may be empty.
	Services []booking.Service
}

func (s Session) Location() *time.Location { return s.Tenant.Location() }

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        string // string, integer, number or boolean
	Description string
	Required    bool
}

// Args are the decoded arguments of one call.
type Args map[string]any

// String returns the argument as trimmed text.
func (a Args) String(name string) string {
	switch v := a[name].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Tool is one function exposed to the model. Run returns a JSON-ready map;
// failures are reported as {"error": message}, never as Go errors.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Run         func(ctx context.Context, s Session, args Args) map[string]any
}

// Registry holds tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Tools lists the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Call runs the named tool after checking required arguments.
func (r *Registry) Call(ctx context.Context, s Session, name string, args map[string]any) map[string]any {
	t, ok := r.tools[name]
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool %q", name))
	}
	a := Args(args)
	for _, p := range t.Params {
		if p.Required && a.String(p.Name) == "" {
			return errorResult(fmt.Sprintf("missing required parameter %q", p.Name))
		}
	}
	return t.Run(ctx, s, a)
}

func errorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// IsError reports whether a tool result carries an error.
func IsError(result map[string]any) bool {
	_, ok := result["error"]
	return ok
}
