package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/salon-booking-bot/internal/whatsapp"
)

// Reply id prefixes produced by Render.
const (
	slotPrefix        = "slot_"
	servicePrefix     = "srv_"
	appointmentPrefix = "appt_"
)

// OutboundKind selects the WhatsApp message type.
type OutboundKind string

const (
	KindText    OutboundKind = "text"
	KindButtons OutboundKind = "buttons"
	KindList    OutboundKind = "list"
)

// Outbound is a rendered reply.
type Outbound struct {
	Kind      OutboundKind
	Body      string
	Buttons   []whatsapp.Button
	ListLabel string
	Sections  []whatsapp.Section
}

// Render picks interactive elements from the last tool result of a reply and
// falls back to plain text.
func Render(r Reply) Outbound {
	body := strings.TrimSpace(r.Text)
	plain := Outbound{Kind: KindText, Body: body}
	if body == "" || r.LastResult == nil || IsError(r.LastResult) {
		return plain
	}
	switch r.LastTool {
	case ToolCheckAvailability:
		return renderSlots(body, items(r.LastResult, "slots"), plain)
	case ToolGetServices:
		return renderServices(body, items(r.LastResult, "services"), plain)
	case ToolGetMyAppointments:
		return renderAppointments(body, items(r.LastResult, "appointments"), plain)
	}
	return plain
}

func renderSlots(body string, slots []map[string]any, plain Outbound) Outbound {
	switch n := len(slots); {
	case n == 0:
		return plain
	case n <= whatsapp.MaxButtons:
		buttons := make([]whatsapp.Button, 0, n)
		for _, s := range slots {
			buttons = append(buttons, whatsapp.Button{
				ID:    slotID(s),
				Title: whatsapp.Truncate(str(s, "start_time")+" "+str(s, "staff_name"), whatsapp.MaxButtonTitle),
			})
		}
		return Outbound{Kind: KindButtons, Body: body, Buttons: buttons}
	case n <= whatsapp.MaxListRows:
		rows := make([]whatsapp.Row, 0, n)
		for _, s := range slots {
			rows = append(rows, whatsapp.Row{
				ID:          slotID(s),
				Title:       str(s, "start_time") + " - " + str(s, "end_time"),
				Description: "with " + str(s, "staff_name"),
			})
		}
		return Outbound{Kind: KindList, Body: body, ListLabel: "See times", Sections: []whatsapp.Section{{Title: "Free times", Rows: rows}}}
	default:
		return plain
	}
}

func slotID(s map[string]any) string {
	return slotPrefix + str(s, "start_time") + "_" + str(s, "staff_id")
}

func renderServices(body string, services []map[string]any, plain Outbound) Outbound {
	if len(services) == 0 || len(services) > whatsapp.MaxListRows {
		return plain
	}
	rows := make([]whatsapp.Row, 0, len(services))
	for _, s := range services {
		desc := fmt.Sprintf("%v min", s["duration_minutes"])
		if price, ok := s["price"].(float64); ok {
			desc += fmt.Sprintf(" · €%.2f", price)
		}
		rows = append(rows, whatsapp.Row{ID: servicePrefix + str(s, "service_id"), Title: str(s, "name"), Description: desc})
	}
	return Outbound{Kind: KindList, Body: body, ListLabel: "Services", Sections: []whatsapp.Section{{Title: "Services", Rows: rows}}}
}

func renderAppointments(body string, appts []map[string]any, plain Outbound) Outbound {
	switch n := len(appts); {
	case n == 0:
		return plain
	case n <= whatsapp.MaxButtons:
		buttons := make([]whatsapp.Button, 0, n)
		for _, a := range appts {
			buttons = append(buttons, whatsapp.Button{ID: appointmentPrefix + str(a, "appointment_id"), Title: shortWhen(a)})
		}
		return Outbound{Kind: KindButtons, Body: body, Buttons: buttons}
	case n <= whatsapp.MaxListRows:
		rows := make([]whatsapp.Row, 0, n)
		for _, a := range appts {
			rows = append(rows, whatsapp.Row{
				ID:          appointmentPrefix + str(a, "appointment_id"),
				Title:       shortWhen(a),
				Description: str(a, "service") + " with " + str(a, "staff"),
			})
		}
		return Outbound{Kind: KindList, Body: body, ListLabel: "Appointments", Sections: []whatsapp.Section{{Title: "Upcoming", Rows: rows}}}
	default:
		return plain
	}
}

// shortWhen renders "15/05 10:00".
func shortWhen(a map[string]any) string {
	d, err := time.Parse("2006-01-02", str(a, "date"))
	if err != nil {
		return str(a, "time")
	}
	return d.Format("02/01") + " " + str(a, "time")
}

func items(result map[string]any, key string) []map[string]any {
	raw, _ := result[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// DescribeReply turns an interactive reply id into text the assistant can act on.
func DescribeReply(id, title string) string {
	switch {
	case strings.HasPrefix(id, slotPrefix):
		rest := strings.TrimPrefix(id, slotPrefix)
		clock, staffID, _ := strings.Cut(rest, "_")
		return fmt.Sprintf("I choose the %s slot (%s, staff_id %s).", clock, title, staffID)
	case strings.HasPrefix(id, servicePrefix):
		return fmt.Sprintf("I'm interested in the service %s (service_id %s).", title, strings.TrimPrefix(id, servicePrefix))
	case strings.HasPrefix(id, appointmentPrefix):
		return fmt.Sprintf("About my appointment %s (appointment_id %s).", title, strings.TrimPrefix(id, appointmentPrefix))
	default:
		if title != "" {
			return title
		}
		return id
	}
}
