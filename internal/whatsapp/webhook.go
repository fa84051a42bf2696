package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WebhookPayload is the envelope Meta posts to the webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []WebhookMessage  `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button,omitempty"`
}

// InboundMessage is one customer message flattened out of a webhook payload.
type InboundMessage struct {
	PhoneNumberID string
	From          string
	MessageID     string
	Type          string
	// Text is the typed body, or the chosen title for replies.
	Text string
	// ReplyID is the id of the button or list row the customer picked.
	ReplyID     string
	ContactName string
	Timestamp   time.Time
}

// IsReply reports whether the customer tapped a button or list row.
func (m InboundMessage) IsReply() bool { return m.ReplyID != "" }

// ParsePayload decodes a raw webhook body.
func ParsePayload(body []byte) (WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookPayload{}, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	return payload, nil
}

// Inbound extracts the customer messages, skipping status callbacks and
// message types that carry no text.
func (p WebhookPayload) Inbound() []InboundMessage {
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = strings.TrimSpace(c.Profile.Name)
			}
			for _, m := range v.Messages {
				msg := InboundMessage{
					PhoneNumberID: v.Metadata.PhoneNumberID,
					From:          m.From,
					MessageID:     m.ID,
					Type:          m.Type,
					ContactName:   names[m.From],
					Timestamp:     parseUnix(m.Timestamp),
				}
				if msg.ContactName == "" && len(v.Contacts) == 1 {
					msg.ContactName = strings.TrimSpace(v.Contacts[0].Profile.Name)
				}
				switch {
				case m.Text != nil:
					msg.Text = m.Text.Body
				case m.Interactive != nil && m.Interactive.ButtonReply != nil:
					msg.ReplyID = m.Interactive.ButtonReply.ID
					msg.Text = m.Interactive.ButtonReply.Title
				case m.Interactive != nil && m.Interactive.ListReply != nil:
					msg.ReplyID = m.Interactive.ListReply.ID
					msg.Text = m.Interactive.ListReply.Title
				case m.Button != nil:
					msg.ReplyID = m.Button.Payload
					msg.Text = m.Button.Text
				default:
					continue
				}
				msg.Text = strings.TrimSpace(msg.Text)
				if msg.Text == "" && msg.ReplyID == "" {
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

func parseUnix(ts string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>")
// against the raw body.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature[len(prefix):])))
}

// Sign returns the header value Meta would send for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
