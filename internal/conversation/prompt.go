package conversation

import (
	"fmt"
	"strings"

	"github.com/wolfman30/salon-booking-bot/internal/availability"
)

// SystemPrompt is the per-session instruction for the assistant.
func SystemPrompt(s Session) string {
	now := s.Now.In(s.Location())
	var b strings.Builder
	fmt.Fprintf(&b, "You are the WhatsApp booking assistant of %s.\n", s.Tenant.Name)
	fmt.Fprintf(&b, "Today is %s %s and the local time is %s (%s).\n",
		weekdayNames[availability.Weekday(now)], now.Format("2006-01-02"), now.Format("15:04"), s.Location().String())

	if name := strings.TrimSpace(s.Client.Name); name != "" {
		fmt.Fprintf(&b, "The client is %s.\n", name)
	} else {
		b.WriteString("The client's full name is unknown. Ask for first and last name and save it with update_client_name before booking.\n")
	}

	if len(s.Services) > 0 {
		b.WriteString("\nServices:\n")
		for _, svc := range s.Services {
			fmt.Fprintf(&b, "- %s (service_id %s, %d min)\n", svc.Name, svc.ID, svc.DurationMinutes)
		}
	}

	b.WriteString(`
Rules:
- Reply in the client's language, briefly and warmly. Plain text only, no markdown.
- Never invent services, prices, staff or times. Use get_services and get_service_info for the catalogue.
- Always call check_availability before proposing times, and only offer times it returned.
- Book only after the client has chosen a service, a date and a time. Dates are YYYY-MM-DD and times HH:MM.
- Pass service_id and staff_id exactly as get_services and check_availability returned them. When the client picks a slot, book it with that slot's staff_id. Use service_name or staff_name only when no id is known.
- To change or cancel an appointment, call get_my_appointments first and use its appointment_id.
- If a tool returns an error, explain it simply and offer an alternative.
- If the client asks for a person, or you cannot help, call request_human_operator.
`)
	return b.String()
}
