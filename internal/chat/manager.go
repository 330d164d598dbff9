package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/messaging"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

// TaskExpireSession is the task kind that closes a session after a period of inactivity.
const TaskExpireSession = "expire_session"

const msgExpired = "This conversation was closed after a period of inactivity. Start a new one to continue."

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message text is required")
	ErrMessageTooLong  = fmt.Errorf("message exceeds %d characters", models.MaxMessageLength)
)

// Manager owns chat sessions. It persists every transcript change, serializes events
// for the same session and mirrors outbound messages.
type Manager struct {
	sessions   store.SessionStore
	dispatcher *Dispatcher
	mirrors    []messaging.Mirror
	clock      script.Clock
	ids        script.IDGenerator

	tasks       store.TaskRepo
	idleTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMirrors adds channels that receive a copy of every new message.
func WithMirrors(mirrors ...messaging.Mirror) ManagerOption {
	return func(m *Manager) { m.mirrors = append(m.mirrors, mirrors...) }
}

// WithClock overrides the clock used for timestamps.
func WithClock(c script.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithIDGenerator overrides the generator used for session and user message ids.
func WithIDGenerator(g script.IDGenerator) ManagerOption {
	return func(m *Manager) { m.ids = g }
}

// WithIdleTimeout closes sessions that receive no input for d. Expiry is scheduled as a
// TaskExpireSession task in tasks; a TaskRunner must route that kind to ExpireSession.
func WithIdleTimeout(d time.Duration, tasks store.TaskRepo) ManagerOption {
	return func(m *Manager) {
		m.idleTimeout = d
		m.tasks = tasks
	}
}

// NewManager creates a manager storing sessions in sessions and routing events through d.
func NewManager(sessions store.SessionStore, d *Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   sessions,
		dispatcher: d,
		clock:      time.Now,
		ids:        script.UUIDv7Generator{},
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dispatcher returns the dispatcher the manager routes through.
func (m *Manager) Dispatcher() *Dispatcher { return m.dispatcher }

// Open creates a session for feature. The handler's greeting and, for scripted
// features, the first prompt are appended before the session is saved.
func (m *Manager) Open(ctx context.Context, feature models.Feature, phone string) (*models.SessionView, error) {
	h, err := m.dispatcher.Handler(feature)
	if err != nil {
		return nil, err
	}
	if phone != "" {
		if phone, err = messaging.CanonicalizePhone(phone); err != nil {
			return nil, err
		}
	}

	now := m.clock()
	s := &Session{
		ID:          m.ids.NewID(),
		Feature:     feature,
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if greeting := h.InitialMessage(); greeting != "" {
		s.Append(m.message(models.RoleAssistant, greeting))
	}
	if starter, ok := h.(Starter); ok {
		msg, err := starter.Start(ctx, s)
		if err != nil {
			slog.Error("Manager.Open: start failed", "feature", feature, "error", err)
			return nil, err
		}
		s.Append(msg)
	}

	if err := m.save(s); err != nil {
		return nil, err
	}
	m.scheduleExpiry(s)
	slog.Info("Manager.Open: session opened", "session", s.ID, "feature", feature, "mirrored", phone != "")
	m.mirror(ctx, s, s.Transcript)
	return s.View(), nil
}

// Send delivers free text from the user to the session's handler.
func (m *Manager) Send(ctx context.Context, sessionID, text string) (*models.ExchangeView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > models.MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	return m.exchange(ctx, sessionID, m.message(models.RoleUser, text), TextEvent(text))
}

// UpdateComponent delivers data submitted through the component attached to messageID.
func (m *Manager) UpdateComponent(ctx context.Context, sessionID, messageID string, data map[string]any) (*models.ExchangeView, error) {
	msg := m.message(models.RoleUser, describeData(data))
	msg.Metadata = map[string]any{models.MetaComponentResultFor: messageID}
	return m.exchange(ctx, sessionID, msg, ComponentEvent(messageID, data))
}

// SendByPhone delivers text received from a mirrored channel to the most recently
// updated open session for phone.
func (m *Manager) SendByPhone(ctx context.Context, phone, text string) (*models.ExchangeView, error) {
	canonical, err := messaging.CanonicalizePhone(phone)
	if err != nil {
		return nil, err
	}
	id, err := m.sessionForPhone(canonical)
	if err != nil {
		return nil, err
	}
	return m.Send(ctx, id, text)
}

// Transcript returns the session with its full transcript.
func (m *Manager) Transcript(ctx context.Context, sessionID string) (*models.SessionView, error) {
	s, err := m.load(sessionID)
	if err != nil {
		return nil, err
	}
	return s.View(), nil
}

// List returns a view of every stored session, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]models.SessionView, error) {
	recs, err := m.sessions.ListSessions()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].UpdatedAt.After(recs[j].UpdatedAt) })
	out := make([]models.SessionView, 0, len(recs))
	for i := range recs {
		s, err := sessionFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *s.View())
	}
	return out, nil
}

// Close deletes the session. Any running script is discarded without its finish hook.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	unlock := m.lock(sessionID)
	defer unlock()

	if err := m.sessions.DeleteSession(sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return err
	}
	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
	if m.tasks != nil {
		if _, err := m.tasks.CancelSessionTasks(sessionID); err != nil {
			slog.Warn("Manager.Close: failed to cancel session tasks", "session", sessionID, "error", err)
		}
	}
	slog.Info("Manager.Close: session closed", "session", sessionID)
	return nil
}

// ExpireSession is the TaskHandler for TaskExpireSession. A session that saw input
// since the task was scheduled is rescheduled; otherwise its script is aborted without
// hooks and the session closed.
func (m *Manager) ExpireSession(ctx context.Context, task store.Task) error {
	unlock := m.lock(task.SessionID)
	defer unlock()

	s, err := m.load(task.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.Closed || m.idleTimeout <= 0 {
		return nil
	}
	if deadline := s.UpdatedAt.Add(m.idleTimeout); m.clock().Before(deadline) {
		_, err := m.tasks.ScheduleTask(TaskExpireSession, s.ID, deadline)
		return err
	}

	if h, err := m.dispatcher.Handler(s.Feature); err == nil {
		if a, ok := h.(Aborter); ok {
			a.Abort(s)
		}
	}
	s.Script = nil
	s.Closed = true
	msg := m.message(models.RoleSystem, msgExpired)
	s.Append(msg)
	s.UpdatedAt = m.clock()
	if err := m.save(s); err != nil {
		return err
	}
	slog.Info("Manager.ExpireSession: idle session closed", "session", s.ID, "feature", s.Feature)
	m.mirror(ctx, s, []models.ChatMessage{*msg})
	return nil
}

// scheduleExpiry moves the session's expiry to idleTimeout from its last update, or
// cancels it once the session is closed.
func (m *Manager) scheduleExpiry(s *Session) {
	if m.tasks == nil || m.idleTimeout <= 0 {
		return
	}
	if s.Closed {
		if _, err := m.tasks.CancelSessionTasks(s.ID); err != nil {
			slog.Warn("Manager.scheduleExpiry: failed to cancel expiry", "session", s.ID, "error", err)
		}
		return
	}
	if _, err := m.tasks.ScheduleTask(TaskExpireSession, s.ID, s.UpdatedAt.Add(m.idleTimeout)); err != nil {
		slog.Warn("Manager.scheduleExpiry: failed to schedule expiry", "session", s.ID, "error", err)
	}
}

// exchange appends userMsg, dispatches ev and persists the result. Nothing is saved
// when the handler fails.
func (m *Manager) exchange(ctx context.Context, sessionID string, userMsg *models.ChatMessage, ev Event) (*models.ExchangeView, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	s, err := m.load(sessionID)
	if err != nil {
		return nil, err
	}

	start := len(s.Transcript)
	s.Append(userMsg)
	reply, err := m.dispatcher.Dispatch(ctx, s.Feature, ev, s)
	if err != nil {
		slog.Error("Manager.exchange: handler failed", "session", sessionID, "feature", s.Feature, "kind", ev.Kind, "error", err)
		return nil, err
	}
	s.Append(reply)
	s.UpdatedAt = m.clock()

	if err := m.save(s); err != nil {
		return nil, err
	}
	m.scheduleExpiry(s)
	added := s.Transcript[start:]
	m.mirror(ctx, s, added)
	return &models.ExchangeView{
		SessionID: s.ID,
		Messages:  append([]models.ChatMessage(nil), added...),
		Active:    s.Active(),
	}, nil
}

func (m *Manager) lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) load(sessionID string) (*Session, error) {
	rec, err := m.sessions.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return sessionFromRecord(rec)
}

func (m *Manager) save(s *Session) error {
	rec, err := s.record()
	if err != nil {
		return err
	}
	if err := m.sessions.SaveSession(rec); err != nil {
		slog.Error("Manager.save: failed to persist session", "session", s.ID, "error", err)
		return err
	}
	return nil
}

func (m *Manager) sessionForPhone(phone string) (string, error) {
	recs, err := m.sessions.ListSessions()
	if err != nil {
		return "", err
	}
	var found *models.Session
	for i := range recs {
		rec := &recs[i]
		if rec.PhoneNumber != phone || rec.Closed {
			continue
		}
		if found == nil || rec.UpdatedAt.After(found.UpdatedAt) {
			found = rec
		}
	}
	if found == nil {
		return "", fmt.Errorf("%w: no open session for phone", ErrSessionNotFound)
	}
	return found.ID, nil
}

func (m *Manager) mirror(ctx context.Context, s *Session, msgs []models.ChatMessage) {
	if len(m.mirrors) == 0 {
		return
	}
	target := messaging.Target{SessionID: s.ID, PhoneNumber: s.PhoneNumber}
	for _, msg := range msgs {
		for _, mirror := range m.mirrors {
			if err := mirror.Deliver(ctx, target, msg); err != nil {
				slog.Warn("Manager.mirror: delivery failed", "session", s.ID, "message", msg.ID, "error", err)
			}
		}
	}
}

func (m *Manager) message(role models.Role, content string) *models.ChatMessage {
	return &models.ChatMessage{
		ID:        m.ids.NewID(),
		Role:      role,
		Content:   content,
		Timestamp: m.clock(),
	}
}

// describeData renders submitted component data as "key: value" lines for the transcript.
func describeData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := data[k]
		if list, ok := v.([]any); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = fmt.Sprint(item)
			}
			v = strings.Join(parts, ", ")
		}
		lines = append(lines, fmt.Sprintf("%s: %v", k, v))
	}
	return strings.Join(lines, "\n")
}
