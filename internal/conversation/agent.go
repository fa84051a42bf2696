package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/wolfman30/salon-booking-bot/internal/messaging"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"
)

var tracer = otel.Tracer("salon.internal.conversation")

const (
	defaultModel     = "gemini-2.5-flash"
	defaultMaxRounds = 5

	exhaustedReply = "Sorry, I couldn't finish that request. Could you tell me again what you need?"
)

// ErrEmptyReply is returned when the model produced neither text nor tool calls.
var ErrEmptyReply = errors.New("conversation: model returned an empty reply")

// Reply is the assistant's answer to one inbound message. LastTool and
// LastResult describe the final tool call, if any, and drive rendering.
type Reply struct {
	Text       string
	LastTool   string
	LastResult map[string]any
	ToolCalls  int
}

// Assistant answers a client message given recent history.
type Assistant interface {
	Respond(ctx context.Context, s Session, history []messaging.MessageRecord, text string) (Reply, error)
}

// chat is the part of genai.ChatSession the loop drives.
type chat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatFactory func(system string, history []*genai.Content) chat

// GeminiConfig configures the Gemini assistant.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxRounds   int
}

// GeminiAssistant runs a function-calling loop against Gemini.
type GeminiAssistant struct {
	client    *genai.Client
	newChat   chatFactory
	registry  *Registry
	maxRounds int
	logger    *logging.Logger
}

// NewGeminiAssistant connects to Gemini and exposes the registry as tools.
func NewGeminiAssistant(ctx context.Context, cfg GeminiConfig, registry *Registry, logger *logging.Logger) (*GeminiAssistant, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	tools := []*genai.Tool{{FunctionDeclarations: Declarations(registry.Tools())}}
	factory := func(system string, history []*genai.Content) chat {
		model := client.GenerativeModel(cfg.Model)
		if cfg.Temperature > 0 {
			model.SetTemperature(cfg.Temperature)
		}
		model.Tools = tools
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
		cs := model.StartChat()
		cs.History = history
		return cs
	}
	a := newAssistant(factory, registry, cfg.MaxRounds, logger)
	a.client = client
	return a, nil
}

func newAssistant(factory chatFactory, registry *Registry, maxRounds int, logger *logging.Logger) *GeminiAssistant {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GeminiAssistant{newChat: factory, registry: registry, maxRounds: maxRounds, logger: logger}
}

// Respond sends text and executes tool calls until the model answers in text
// or the round limit is reached.
func (a *GeminiAssistant) Respond(ctx context.Context, s Session, history []messaging.MessageRecord, text string) (Reply, error) {
	ctx, span := tracer.Start(ctx, "conversation.respond")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", s.Tenant.ID.String()))

	cs := a.newChat(SystemPrompt(s), historyContents(history))
	resp, err := cs.SendMessage(ctx, genai.Text(text))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		return Reply{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}

	var reply Reply
	for round := 0; ; round++ {
		calls := functionCalls(resp)
		if len(calls) == 0 {
			reply.Text = responseText(resp)
			if reply.Text == "" {
				return reply, ErrEmptyReply
			}
			span.SetAttributes(attribute.Int("conversation.tool_calls", reply.ToolCalls))
			return reply, nil
		}
		if round >= a.maxRounds {
			a.logger.Warn("conversation: tool round limit reached", "tenant_id", s.Tenant.ID, "rounds", round)
			reply.Text = exhaustedReply
			return reply, nil
		}

		parts := make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			result := a.registry.Call(ctx, s, call.Name, call.Args)
			reply.ToolCalls++
			reply.LastTool, reply.LastResult = call.Name, result
			a.logger.Debug("conversation: tool call", "tenant_id", s.Tenant.ID, "tool", call.Name, "failed", IsError(result))
			parts = append(parts, genai.FunctionResponse{Name: call.Name, Response: result})
		}
		resp, err = cs.SendMessage(ctx, parts...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "send tool results")
			return Reply{}, fmt.Errorf("conversation: gemini tool round failed: %w", err)
		}
	}
}

// Close releases the Gemini client.
func (a *GeminiAssistant) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Declarations converts registry tools to Gemini function declarations.
func Declarations(tools []Tool) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Params) > 0 {
			schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
			for _, p := range t.Params {
				schema.Properties[p.Name] = &genai.Schema{Type: schemaType(p.Type), Description: p.Description}
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
			decl.Parameters = schema
		}
		out = append(out, decl)
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func historyContents(history []messaging.MessageRecord) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := "user"
		if m.Direction == messaging.DirectionOutbound {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(content)}})
	}
	return out
}

func candidateParts(resp *genai.GenerateContentResponse) []genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

func functionCalls(resp *genai.GenerateContentResponse) []genai.FunctionCall {
	var out []genai.FunctionCall
	for _, part := range candidateParts(resp) {
		if fc, ok := part.(genai.FunctionCall); ok {
			out = append(out, fc)
		}
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, part := range candidateParts(resp) {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}
