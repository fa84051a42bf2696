package whatsapp

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Meta limits for interactive messages.
const (
	MaxButtons          = 3
	MaxButtonTitle      = 20
	MaxListRows         = 10
	MaxRowTitle         = 24
	MaxRowDescription   = 72
	MaxListButtonLabel  = 20
	MaxInteractiveBody  = 1024
	defaultTemplateLang = "it"
)

var ErrInvalidMessage = errors.New("whatsapp: invalid message")

// Button is one reply button.
type Button struct {
	ID    string
	Title string
}

// Row is one selectable list row.
type Row struct {
	ID          string
	Title       string
	Description string
}

// Section groups list rows under an optional title.
type Section struct {
	Title string
	Rows  []Row
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n == 1 {
		return string(r[:1])
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type,omitempty"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textBody        `json:"text,omitempty"`
	Interactive      *interactiveBody `json:"interactive,omitempty"`
	Template         *templateBody    `json:"template,omitempty"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type interactiveBody struct {
	Type   string            `json:"type"`
	Body   interactiveText   `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveText struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Buttons  []replyButton `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []listSection `json:"sections,omitempty"`
}

type replyButton struct {
	Type  string     `json:"type"`
	Reply replyTitle `json:"reply"`
}

type replyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type listSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []listRow `json:"rows"`
}

type listRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type markReadRequest struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func newRequest(to, kind string) sendRequest {
	return sendRequest{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: kind}
}

func buttonsRequest(to, body string, buttons []Button) (sendRequest, error) {
	if len(buttons) == 0 || len(buttons) > MaxButtons {
		return sendRequest{}, fmt.Errorf("%w: %d buttons, want 1..%d", ErrInvalidMessage, len(buttons), MaxButtons)
	}
	out := make([]replyButton, 0, len(buttons))
	for _, b := range buttons {
		if strings.TrimSpace(b.ID) == "" {
			return sendRequest{}, fmt.Errorf("%w: button id required", ErrInvalidMessage)
		}
		out = append(out, replyButton{Type: "reply", Reply: replyTitle{ID: b.ID, Title: Truncate(b.Title, MaxButtonTitle)}})
	}
	req := newRequest(to, "interactive")
	req.Interactive = &interactiveBody{
		Type:   "button",
		Body:   interactiveText{Text: Truncate(body, MaxInteractiveBody)},
		Action: interactiveAction{Buttons: out},
	}
	return req, nil
}

func listRequest(to, body, label string, sections []Section) (sendRequest, error) {
	total := 0
	out := make([]listSection, 0, len(sections))
	for _, s := range sections {
		rows := make([]listRow, 0, len(s.Rows))
		for _, r := range s.Rows {
			if strings.TrimSpace(r.ID) == "" {
				return sendRequest{}, fmt.Errorf("%w: row id required", ErrInvalidMessage)
			}
			rows = append(rows, listRow{
				ID:          r.ID,
				Title:       Truncate(r.Title, MaxRowTitle),
				Description: Truncate(r.Description, MaxRowDescription),
			})
		}
		total += len(rows)
		out = append(out, listSection{Title: Truncate(s.Title, MaxRowTitle), Rows: rows})
	}
	if total == 0 || total > MaxListRows {
		return sendRequest{}, fmt.Errorf("%w: %d rows, want 1..%d", ErrInvalidMessage, total, MaxListRows)
	}
	if strings.TrimSpace(label) == "" {
		label = "Choose"
	}
	req := newRequest(to, "interactive")
	req.Interactive = &interactiveBody{
		Type:   "list",
		Body:   interactiveText{Text: Truncate(body, MaxInteractiveBody)},
		Action: interactiveAction{Button: Truncate(label, MaxListButtonLabel), Sections: out},
	}
	return req, nil
}

func templateRequest(to, name, lang string, params []string) sendRequest {
	if strings.TrimSpace(lang) == "" {
		lang = defaultTemplateLang
	}
	req := newRequest(to, "template")
	tpl := &templateBody{Name: name, Language: templateLanguage{Code: lang}}
	if len(params) > 0 {
		comp := templateComponent{Type: "body"}
		for _, p := range params {
			comp.Parameters = append(comp.Parameters, templateParameter{Type: "text", Text: p})
		}
		tpl.Components = []templateComponent{comp}
	}
	req.Template = tpl
	return req
}
