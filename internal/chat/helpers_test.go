package chat

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/component"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

const testFeature models.Feature = "intake"

func newTestRunner() *script.Runner {
	reg := component.NewRegistry()
	reg.Register("name-form", component.KindForm, map[string]any{"fields": []string{"name"}})
	return script.NewRunner(reg,
		script.WithClock(script.FixedClock(testNow)),
		script.WithIDGenerator(script.NewSequenceGenerator("msg")))
}

// intakeFixture is a three step script whose second step hook can be made to fail.
type intakeFixture struct {
	def       *script.Definition
	failHook  bool
	finished  []map[string]script.Data
	hookCalls int
}

func newIntakeFixture() *intakeFixture {
	f := &intakeFixture{}
	required := script.Required{Fields: []string{"text"}, Message: "Please type something."}
	f.def = &script.Definition{
		ID:                "intake-v1",
		Feature:           testFeature,
		Title:             "Let's get you set up.",
		CompletionMessage: "Thanks, you're all set.",
		Steps: []script.Step{
			{ID: "name", Prompt: "What's your name?", Component: &script.ComponentSpec{TypeKey: "name-form"}, Validator: required},
			{ID: "city", Prompt: "Which city?", Validator: required, Completer: script.CompleterFunc(func(context.Context, script.Data, *script.Context) error {
				f.hookCalls++
				if f.failHook {
					return errors.New("geocoder unavailable")
				}
				return nil
			})},
			{ID: "notes", Prompt: "Anything else?"},
		},
		OnComplete: script.FinishFunc(func(_ context.Context, sc *script.Context) error {
			f.finished = append(f.finished, sc.Result())
			return nil
		}),
	}
	return f
}

// echoHandler is a stepless handler without component or start support.
type echoHandler struct {
	feature models.Feature
	err     error
}

func (h *echoHandler) Feature() models.Feature { return h.feature }
func (h *echoHandler) InitialMessage() string  { return "Ask me anything." }
func (h *echoHandler) StepMessage(int) string  { return "" }
func (h *echoHandler) CanGoBack(int) bool      { return false }
func (h *echoHandler) TotalSteps() int         { return 0 }

func (h *echoHandler) HandleMessage(_ context.Context, text string, _ *Session) (*models.ChatMessage, error) {
	if h.err != nil {
		return nil, h.err
	}
	if text == "silence" {
		return nil, nil
	}
	return &models.ChatMessage{ID: "echo-" + text, Role: models.RoleAssistant, Content: "you said " + text, Timestamp: testNow}, nil
}
