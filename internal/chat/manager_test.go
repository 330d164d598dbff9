package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ScriptFlow/internal/messaging"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

type recordingMirror struct {
	mu   sync.Mutex
	got  []models.ChatMessage
	fail bool
}

func (m *recordingMirror) Deliver(_ context.Context, target messaging.Target, msg models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, msg)
	if m.fail {
		return errors.New("channel down")
	}
	return nil
}

type managerFixture struct {
	intake  *intakeFixture
	store   *store.InMemoryStore
	mirror  *recordingMirror
	manager *Manager
}

func newManagerFixture() *managerFixture {
	f := &managerFixture{
		intake: newIntakeFixture(),
		store:  store.NewInMemoryStore(),
		mirror: &recordingMirror{},
	}
	d := NewDispatcher()
	d.MustRegister(NewScriptHandler(f.intake.def, newTestRunner()))
	d.MustRegister(&echoHandler{feature: "echo"})
	f.manager = NewManager(f.store, d,
		WithMirrors(f.mirror),
		WithClock(script.FixedClock(testNow)),
		WithIDGenerator(script.NewSequenceGenerator("id")))
	return f
}

func TestManager_OpenScriptedSession(t *testing.T) {
	f := newManagerFixture()

	view, err := f.manager.Open(context.Background(), testFeature, "")
	require.NoError(t, err)
	assert.Equal(t, "id-1", view.ID)
	assert.True(t, view.Active)
	require.Len(t, view.Transcript, 2)
	assert.Equal(t, "Let's get you set up.", view.Transcript[0].Content)
	assert.Equal(t, "What's your name?", view.Transcript[1].Content)

	rec, err := f.store.GetSession(view.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ScriptState)
	assert.Len(t, f.mirror.got, 2)
}

func TestManager_OpenErrors(t *testing.T) {
	f := newManagerFixture()
	_, err := f.manager.Open(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrUnknownFeature)

	_, err = f.manager.Open(context.Background(), testFeature, "12")
	assert.ErrorIs(t, err, messaging.ErrInvalidPhone)

	sessions, err := f.store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestManager_ConversationIsPersisted(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, testFeature, "")
	require.NoError(t, err)

	ex, err := f.manager.Send(ctx, view.ID, "Ada")
	require.NoError(t, err)
	require.Len(t, ex.Messages, 2)
	assert.Equal(t, models.RoleUser, ex.Messages[0].Role)
	assert.Equal(t, "Ada", ex.Messages[0].Content)
	assert.Equal(t, "Which city?", ex.Messages[1].Content)
	assert.True(t, ex.Active)

	_, err = f.manager.Send(ctx, view.ID, "London")
	require.NoError(t, err)
	ex, err = f.manager.Send(ctx, view.ID, "no")
	require.NoError(t, err)
	assert.False(t, ex.Active)
	assert.Equal(t, "Thanks, you're all set.", ex.Messages[1].Content)

	full, err := f.manager.Transcript(ctx, view.ID)
	require.NoError(t, err)
	assert.Len(t, full.Transcript, 8)
	assert.False(t, full.Active)

	rec, err := f.store.GetSession(view.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.ScriptState)
	assert.True(t, rec.Closed)
	require.Len(t, f.intake.finished, 1)
}

func TestManager_SendValidation(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	_, err := f.manager.Send(ctx, "missing", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.manager.Send(ctx, "missing", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	long := make([]byte, models.MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.manager.Send(ctx, "missing", string(long))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestManager_UpdateComponent(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, testFeature, "")
	require.NoError(t, err)
	prompt := view.Transcript[1]

	ex, err := f.manager.UpdateComponent(ctx, view.ID, prompt.ID, map[string]any{"text": "Ada"})
	require.NoError(t, err)
	require.Len(t, ex.Messages, 2)
	assert.Equal(t, "text: Ada", ex.Messages[0].Content)
	assert.Equal(t, prompt.ID, ex.Messages[0].Metadata[models.MetaComponentResultFor])
	assert.Equal(t, "Which city?", ex.Messages[1].Content)
}

func TestManager_StatelessHandler(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, "echo", "")
	require.NoError(t, err)
	require.Len(t, view.Transcript, 1)

	ex, err := f.manager.Send(ctx, view.ID, "silence")
	require.NoError(t, err)
	assert.Len(t, ex.Messages, 1)

	ex, err = f.manager.UpdateComponent(ctx, view.ID, "m", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Len(t, ex.Messages, 1)
}

func TestManager_HandlerErrorDoesNotPersist(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, "echo", "")
	require.NoError(t, err)

	h, err := f.manager.Dispatcher().Handler("echo")
	require.NoError(t, err)
	h.(*echoHandler).err = errors.New("model unavailable")

	_, err = f.manager.Send(ctx, view.ID, "hello")
	assert.EqualError(t, err, "model unavailable")

	full, err := f.manager.Transcript(ctx, view.ID)
	require.NoError(t, err)
	assert.Len(t, full.Transcript, 1)
}

func TestManager_MirrorFailureIsIgnored(t *testing.T) {
	f := newManagerFixture()
	f.mirror.fail = true
	ctx := context.Background()

	view, err := f.manager.Open(ctx, "echo", "+1 555 123 4567")
	require.NoError(t, err)
	_, err = f.manager.Send(ctx, view.ID, "hi")
	require.NoError(t, err)
	assert.Len(t, f.mirror.got, 3)
}

func TestManager_SendByPhone(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	view, err := f.manager.Open(ctx, "echo", "+1 (555) 123-4567")
	require.NoError(t, err)

	ex, err := f.manager.SendByPhone(ctx, "15551234567", "hi")
	require.NoError(t, err)
	assert.Equal(t, view.ID, ex.SessionID)

	_, err = f.manager.SendByPhone(ctx, "15559999999", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_CloseAndList(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	a, err := f.manager.Open(ctx, "echo", "")
	require.NoError(t, err)
	_, err = f.manager.Open(ctx, testFeature, "")
	require.NoError(t, err)

	list, err := f.manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, f.manager.Close(ctx, a.ID))
	assert.ErrorIs(t, f.manager.Close(ctx, a.ID), ErrSessionNotFound)
	_, err = f.manager.Transcript(ctx, a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	list, err = f.manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestManager_ConcurrentSendsAreSerialized(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, "echo", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Send(ctx, view.ID, "ping")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	full, err := f.manager.Transcript(ctx, view.ID)
	require.NoError(t, err)
	assert.Len(t, full.Transcript, 41)
}

func TestDescribeData(t *testing.T) {
	got := describeData(map[string]any{"skills": []any{"go", "sql"}, "name": "Ada"})
	assert.Equal(t, "name: Ada\nskills: go, sql", got)
}
