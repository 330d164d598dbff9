package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

var (
	// ErrUnknownFeature indicates no handler is registered for a feature. The feature
	// set is fixed at startup, so this is a wiring error.
	ErrUnknownFeature = errors.New("UNKNOWN_FEATURE")

	// ErrDuplicateFeature indicates a second handler was registered for a feature.
	ErrDuplicateFeature = errors.New("handler already registered for feature")
)

// EventKind distinguishes free text from component submissions.
type EventKind string

const (
	EventText      EventKind = "text"
	EventComponent EventKind = "component"
)

// Event is one inbound user action.
type Event struct {
	Kind EventKind
	// Text is set for EventText.
	Text string
	// MessageID and Data are set for EventComponent; MessageID names the message whose
	// component produced Data.
	MessageID string
	Data      map[string]any
}

// TextEvent builds a free-text event.
func TextEvent(text string) Event {
	return Event{Kind: EventText, Text: text}
}

// ComponentEvent builds a component submission event.
func ComponentEvent(messageID string, data map[string]any) Event {
	return Event{Kind: EventComponent, MessageID: messageID, Data: data}
}

// Dispatcher maps feature tags to handlers. It holds no state beyond the table and does
// not validate events.
type Dispatcher struct {
	handlers map[models.Feature]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[models.Feature]Handler)}
}

// Register adds h under its feature tag.
func (d *Dispatcher) Register(h Handler) error {
	feature := h.Feature()
	if _, exists := d.handlers[feature]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFeature, feature)
	}
	d.handlers[feature] = h
	slog.Debug("Dispatcher.Register: handler registered", "feature", feature, "steps", h.TotalSteps())
	return nil
}

// MustRegister is like Register but panics on a duplicate feature.
func (d *Dispatcher) MustRegister(h Handler) {
	if err := d.Register(h); err != nil {
		panic(err)
	}
}

// Handler returns the handler registered for feature.
func (d *Dispatcher) Handler(feature models.Feature) (Handler, error) {
	h, ok := d.handlers[feature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	return h, nil
}

// Features returns the registered feature tags, sorted.
func (d *Dispatcher) Features() []models.Feature {
	out := make([]models.Feature, 0, len(d.handlers))
	for f := range d.handlers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch forwards ev to the handler for feature.
func (d *Dispatcher) Dispatch(ctx context.Context, feature models.Feature, ev Event, s *Session) (*models.ChatMessage, error) {
	h, err := d.Handler(feature)
	if err != nil {
		slog.Error("Dispatcher.Dispatch: no handler", "feature", feature)
		return nil, err
	}

	switch ev.Kind {
	case EventComponent:
		updater, ok := h.(ComponentUpdater)
		if !ok {
			slog.Debug("Dispatcher.Dispatch: handler ignores component updates", "feature", feature, "message", ev.MessageID)
			return nil, nil
		}
		return updater.HandleComponentUpdate(ctx, ev.MessageID, ev.Data, s)
	default:
		return h.HandleMessage(ctx, ev.Text, s)
	}
}
