package messaging

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/twiliowhatsapp"
)

// TwilioMirror sends assistant and system messages to the session's WhatsApp number.
// Sessions without a phone number are skipped.
type TwilioMirror struct {
	sender twiliowhatsapp.Sender
}

// NewTwilioMirror creates a mirror backed by sender.
func NewTwilioMirror(sender twiliowhatsapp.Sender) *TwilioMirror {
	return &TwilioMirror{sender: sender}
}

func (m *TwilioMirror) Deliver(ctx context.Context, target Target, msg models.ChatMessage) error {
	if target.PhoneNumber == "" || msg.Role == models.RoleUser {
		return nil
	}
	to, err := CanonicalizePhone(target.PhoneNumber)
	if err != nil {
		slog.Error("TwilioMirror.Deliver: validation error", "error", err, "session", target.SessionID)
		return err
	}
	if err := m.sender.SendMessage(ctx, to, Render(msg)); err != nil {
		return err
	}
	slog.Debug("TwilioMirror.Deliver: message mirrored", "session", target.SessionID, "message", msg.ID)
	return nil
}

var ErrMissingInboundFields = errors.New("missing required fields")

// Inbound is a message received on a Twilio WhatsApp webhook.
type Inbound struct {
	From string // canonical phone number
	Body string
	// MessageSID is Twilio's id for the message; redeliveries carry the same value.
	MessageSID string
}

// ParseInbound reads the From, Body and MessageSid form fields of a Twilio webhook request.
func ParseInbound(r *http.Request) (Inbound, error) {
	if err := r.ParseForm(); err != nil {
		return Inbound{}, err
	}
	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		slog.Warn("ParseInbound: Twilio webhook missing fields", "from", from, "body_set", body != "")
		return Inbound{}, ErrMissingInboundFields
	}
	canonical, err := CanonicalizePhone(from)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{From: canonical, Body: body, MessageSID: r.FormValue("MessageSid")}, nil
}
