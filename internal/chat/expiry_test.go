package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

type expiryFixture struct {
	intake  *intakeFixture
	store   *store.InMemoryStore
	manager *Manager
	now     time.Time
}

func newExpiryFixture() *expiryFixture {
	f := &expiryFixture{
		intake: newIntakeFixture(),
		store:  store.NewInMemoryStore(),
		now:    testNow,
	}
	d := NewDispatcher()
	d.MustRegister(NewScriptHandler(f.intake.def, newTestRunner()))
	f.manager = NewManager(f.store, d,
		WithClock(func() time.Time { return f.now }),
		WithIDGenerator(script.NewSequenceGenerator("id")),
		WithIdleTimeout(30*time.Minute, f.store))
	return f
}

func (f *expiryFixture) expiryTask(t *testing.T) store.Task {
	t.Helper()
	tasks, err := f.store.ClaimDueTasks(f.now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskExpireSession, tasks[0].Kind)
	return tasks[0]
}

func TestManager_IdleSessionExpires(t *testing.T) {
	f := newExpiryFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, testFeature, "")
	require.NoError(t, err)

	task := f.expiryTask(t)
	assert.Equal(t, view.ID, task.SessionID)
	assert.Equal(t, testNow.Add(30*time.Minute), task.RunAt)

	f.now = testNow.Add(31 * time.Minute)
	require.NoError(t, f.manager.ExpireSession(ctx, task))

	full, err := f.manager.Transcript(ctx, view.ID)
	require.NoError(t, err)
	assert.False(t, full.Active)
	last := full.Transcript[len(full.Transcript)-1]
	assert.Equal(t, models.RoleSystem, last.Role)
	assert.Equal(t, msgExpired, last.Content)

	rec, err := f.store.GetSession(view.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.ScriptState)
	assert.Empty(t, f.intake.finished, "expiry must not run the finish hook")
}

func TestManager_ActiveSessionIsRescheduled(t *testing.T) {
	f := newExpiryFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, testFeature, "")
	require.NoError(t, err)
	task := f.expiryTask(t)
	require.NoError(t, f.store.CompleteTask(task.ID))

	f.now = testNow.Add(20 * time.Minute)
	_, err = f.manager.Send(ctx, view.ID, "Ada")
	require.NoError(t, err)

	// The task fires at the original deadline but the session was used since.
	f.now = testNow.Add(30 * time.Minute)
	require.NoError(t, f.manager.ExpireSession(ctx, task))

	full, err := f.manager.Transcript(ctx, view.ID)
	require.NoError(t, err)
	assert.True(t, full.Active)

	next := f.expiryTask(t)
	assert.Equal(t, testNow.Add(50*time.Minute), next.RunAt)
}

func TestManager_CloseCancelsExpiry(t *testing.T) {
	f := newExpiryFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, testFeature, "")
	require.NoError(t, err)

	require.NoError(t, f.manager.Close(ctx, view.ID))
	tasks, err := f.store.ClaimDueTasks(f.now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// A task that fires for a deleted session is a no-op.
	assert.NoError(t, f.manager.ExpireSession(ctx, store.Task{Kind: TaskExpireSession, SessionID: view.ID}))
}

func TestManager_CompletedSessionCancelsExpiry(t *testing.T) {
	f := newExpiryFixture()
	ctx := context.Background()
	view, err := f.manager.Open(ctx, testFeature, "")
	require.NoError(t, err)
	for _, text := range []string{"Ada", "London", "no"} {
		_, err := f.manager.Send(ctx, view.ID, text)
		require.NoError(t, err)
	}
	tasks, err := f.store.ClaimDueTasks(f.now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
