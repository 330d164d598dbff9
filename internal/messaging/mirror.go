// Package messaging mirrors chat transcripts onto external channels such as WhatsApp.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Target identifies where a session's messages are mirrored.
type Target struct {
	SessionID   string
	PhoneNumber string
}

// Mirror delivers outbound chat messages to an external channel. Delivery failures
// are reported but never affect the conversation.
type Mirror interface {
	Deliver(ctx context.Context, target Target, msg models.ChatMessage) error
}

// MirrorFunc adapts a function to Mirror.
type MirrorFunc func(ctx context.Context, target Target, msg models.ChatMessage) error

func (f MirrorFunc) Deliver(ctx context.Context, target Target, msg models.ChatMessage) error {
	return f(ctx, target, msg)
}

var ErrInvalidPhone = errors.New("invalid phone number")

var nonDigits = regexp.MustCompile(`[^0-9]`)

// CanonicalizePhone removes all non-numeric characters and requires at least 6 digits.
func CanonicalizePhone(phone string) (string, error) {
	if phone == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	canonical := nonDigits.ReplaceAllString(phone, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in %q", ErrInvalidPhone, phone)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("%w: %q is too short (minimum 6 digits required)", ErrInvalidPhone, canonical)
	}
	if canonical != phone {
		slog.Debug("CanonicalizePhone: canonicalized recipient", "original", phone, "canonical", canonical)
	}
	return canonical, nil
}
