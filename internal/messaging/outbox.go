package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/store"
	"github.com/BTreeMap/ScriptFlow/internal/twiliowhatsapp"
)

// OutboxMirror queues assistant and system messages for the session's phone number in
// a durable outbox instead of sending them inline. An OutboxSender using SendOutbox
// performs the delivery, retrying across restarts.
type OutboxMirror struct {
	repo store.OutboxRepo
}

// NewOutboxMirror creates a mirror that enqueues into repo.
func NewOutboxMirror(repo store.OutboxRepo) *OutboxMirror {
	return &OutboxMirror{repo: repo}
}

func (m *OutboxMirror) Deliver(ctx context.Context, target Target, msg models.ChatMessage) error {
	if target.PhoneNumber == "" || msg.Role == models.RoleUser {
		return nil
	}
	to, err := CanonicalizePhone(target.PhoneNumber)
	if err != nil {
		slog.Error("OutboxMirror.Deliver: validation error", "error", err, "session", target.SessionID)
		return err
	}
	id, err := m.repo.EnqueueOutboxMessage(store.OutboxMessage{
		SessionID: target.SessionID,
		MessageID: msg.ID,
		Recipient: to,
		Body:      Render(msg),
	})
	if err != nil {
		return err
	}
	slog.Debug("OutboxMirror.Deliver: message queued", "session", target.SessionID, "message", msg.ID, "outbox", id)
	return nil
}

// SendOutbox returns the OutboxSender callback that delivers queued messages with sender.
func SendOutbox(sender twiliowhatsapp.Sender) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		return sender.SendMessage(ctx, msg.Recipient, msg.Body)
	}
}
