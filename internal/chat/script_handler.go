package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
)

// Text commands understood by ScriptHandler.
const (
	CommandBack   = "/back"
	CommandCancel = "/cancel"
	CommandRetry  = "/retry"
)

// User-facing system replies.
const (
	msgBackRejected   = "You can't go back from this step."
	msgCancelled      = "Okay, I've cancelled this conversation. Nothing else will be saved."
	msgEnded          = "This conversation has ended. Start a new one to continue."
	msgHookFailed     = "Something went wrong while saving that answer. Your input was kept; send /retry to try again."
	msgAwaitingRetry  = "Your answers are complete but saving failed. Send /retry to try again."
	msgNothingToRetry = "There's nothing to retry right now."
	msgStaleComponent = "That form belongs to an earlier step. Please use the latest one."
)

// ScriptHandler is the Handler for a feature driven by a single script definition.
type ScriptHandler struct {
	def     *script.Definition
	runner  *script.Runner
	policy  func(stepIndex int) bool
	initial string
}

// HandlerOption configures a ScriptHandler.
type HandlerOption func(*ScriptHandler)

// WithBackPolicy sets the feature's back navigation rule. It is consulted only for
// steps after the first.
func WithBackPolicy(fn func(stepIndex int) bool) HandlerOption {
	return func(h *ScriptHandler) { h.policy = fn }
}

// WithInitialMessage overrides the greeting appended when a session opens.
func WithInitialMessage(text string) HandlerOption {
	return func(h *ScriptHandler) { h.initial = text }
}

// NewScriptHandler creates a handler that runs def with runner.
func NewScriptHandler(def *script.Definition, runner *script.Runner, opts ...HandlerOption) *ScriptHandler {
	h := &ScriptHandler{
		def:     def,
		runner:  runner,
		initial: def.Title,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Definition returns the script the handler runs.
func (h *ScriptHandler) Definition() *script.Definition { return h.def }

func (h *ScriptHandler) Feature() models.Feature { return h.def.Feature }

func (h *ScriptHandler) InitialMessage() string { return h.initial }

func (h *ScriptHandler) TotalSteps() int { return h.def.TotalSteps() }

func (h *ScriptHandler) StepMessage(stepIndex int) string {
	if stepIndex < 0 || stepIndex >= len(h.def.Steps) {
		return ""
	}
	return h.def.Steps[stepIndex].Prompt
}

func (h *ScriptHandler) CanGoBack(stepIndex int) bool {
	if stepIndex <= 0 || stepIndex > len(h.def.Steps) {
		return false
	}
	if h.policy == nil {
		return true
	}
	return h.policy(stepIndex)
}

// Start runs the script and returns its first prompt.
func (h *ScriptHandler) Start(ctx context.Context, s *Session) (*models.ChatMessage, error) {
	sc, msg, err := h.runner.Start(WithSessionID(ctx, s.ID), h.def)
	if err != nil {
		return nil, err
	}
	sc.PromptMessageID = msg.ID
	s.Script = sc
	return msg, nil
}

func (h *ScriptHandler) HandleMessage(ctx context.Context, text string, s *Session) (*models.ChatMessage, error) {
	if s.Script == nil {
		return h.inactive(ctx, s)
	}
	ctx = WithSessionID(ctx, s.ID)

	text = strings.TrimSpace(text)
	switch strings.ToLower(text) {
	case CommandBack:
		return h.goBack(s)
	case CommandCancel:
		h.Abort(s)
		slog.Info("ScriptHandler.HandleMessage: script cancelled", "session", s.ID, "script", h.def.ID)
		return h.system(msgCancelled), nil
	case CommandRetry:
		res, err := h.runner.Retry(ctx, s.Script, h.def)
		return h.afterTransition(s, res, err)
	}

	res, err := h.runner.Submit(ctx, s.Script, h.def, script.Data{"text": text})
	return h.afterTransition(s, res, err)
}

// HandleComponentUpdate submits data from the component attached to messageID. Only the
// message that prompted the current step is accepted.
func (h *ScriptHandler) HandleComponentUpdate(ctx context.Context, messageID string, data map[string]any, s *Session) (*models.ChatMessage, error) {
	if s.Script == nil {
		return h.inactive(ctx, s)
	}
	if messageID != s.Script.PromptMessageID {
		slog.Info("ScriptHandler.HandleComponentUpdate: stale component message", "session", s.ID,
			"message", messageID, "current", s.Script.PromptMessageID)
		return h.system(msgStaleComponent), nil
	}
	res, err := h.runner.Submit(WithSessionID(ctx, s.ID), s.Script, h.def, data)
	return h.afterTransition(s, res, err)
}

// Abort stops the session's script without running any hook and closes the session.
func (h *ScriptHandler) Abort(s *Session) {
	h.runner.Abort(s.Script)
	s.Script = nil
	s.Closed = true
}

func (h *ScriptHandler) goBack(s *Session) (*models.ChatMessage, error) {
	msg, err := h.runner.GoBack(s.Script, h.def, script.BackPolicyFunc(h.CanGoBack))
	if script.IsBackRejected(err) {
		return h.system(msgBackRejected), nil
	}
	if err != nil {
		return h.afterTransition(s, nil, err)
	}
	s.Script.PromptMessageID = msg.ID
	return msg, nil
}

// inactive answers input to a session without a running script.
func (h *ScriptHandler) inactive(ctx context.Context, s *Session) (*models.ChatMessage, error) {
	if s.Closed {
		return h.system(msgEnded), nil
	}
	return h.Start(ctx, s)
}

func (h *ScriptHandler) afterTransition(s *Session, res *script.StepResult, err error) (*models.ChatMessage, error) {
	if err != nil {
		switch script.CodeOf(err) {
		case script.ErrCodeValidationFailed:
			verr, _ := script.ValidationErrorOf(err)
			s.Script.PromptMessageID = verr.Reprompt.ID
			return verr.Reprompt, nil
		case script.ErrCodeHookFailed:
			msg := h.system(msgHookFailed)
			msg.Metadata = map[string]any{models.MetaScriptID: h.def.ID, models.MetaRetryable: true}
			return msg, nil
		case script.ErrCodeAwaitingRetry:
			msg := h.system(msgAwaitingRetry)
			msg.Metadata = map[string]any{models.MetaScriptID: h.def.ID, models.MetaRetryable: true}
			return msg, nil
		case script.ErrCodeNothingToRetry:
			return h.system(msgNothingToRetry), nil
		case script.ErrCodeNotRunning:
			s.Script = nil
			s.Closed = true
			return h.system(msgEnded), nil
		default:
			return nil, err
		}
	}

	if res.Completed {
		slog.Info("ScriptHandler.afterTransition: script completed", "session", s.ID, "script", h.def.ID)
		s.Script = nil
		s.Closed = true
		return res.Message, nil
	}
	s.Script.PromptMessageID = res.Message.ID
	return res.Message, nil
}

func (h *ScriptHandler) system(text string) *models.ChatMessage {
	return h.runner.NewMessage(models.RoleSystem, text)
}
