package candidate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/ScriptFlow/internal/chat"
	"github.com/BTreeMap/ScriptFlow/internal/component"
	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/script"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

type fakeExtractor struct {
	fields map[string]string
	err    error
	calls  int
	text   string
}

func (f *fakeExtractor) ExtractFields(_ context.Context, _, text string, _ []string) (map[string]string, error) {
	f.calls++
	f.text = text
	return f.fields, f.err
}

type fixture struct {
	store     *store.InMemoryStore
	extractor *fakeExtractor
	module    *Module
	handler   *chat.ScriptHandler
	session   *chat.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewInMemoryStore(),
		extractor: &fakeExtractor{fields: map[string]string{
			"name":    "Ada Lovelace",
			"phone":   "+44 20 7946 0958",
			"skills":  "Mathematics\nAnalytical engines",
			"summary": "Mathematician and first programmer.",
		}},
	}
	f.module = New(f.store,
		WithExtractor(f.extractor),
		WithIDGenerator(script.NewSequenceGenerator("cand")),
		WithClock(script.FixedClock(testNow)))

	reg := component.NewRegistry()
	f.module.RegisterComponents(reg)
	def, err := f.module.Definition()
	require.NoError(t, err)

	runner := script.NewRunner(reg, script.WithClock(script.FixedClock(testNow)))
	f.handler = f.module.NewHandler(def, runner)
	f.session = &chat.Session{ID: "s1", Feature: "candidate"}
	return f
}

func (f *fixture) say(t *testing.T, text string) string {
	t.Helper()
	msg, err := f.handler.HandleMessage(context.Background(), text, f.session)
	require.NoError(t, err)
	return msg.Content
}

func TestDefinition(t *testing.T) {
	def, err := New(store.NewInMemoryStore()).Definition()
	require.NoError(t, err)
	assert.Equal(t, "create-candidate", def.ID)
	assert.Equal(t, "candidate", string(def.Feature))
	require.Len(t, def.Steps, 4)
	assert.Equal(t, []string{StepResume, StepContact, StepSkills, StepReview},
		[]string{def.Steps[0].ID, def.Steps[1].ID, def.Steps[2].ID, def.Steps[3].ID})
	assert.NotNil(t, def.Steps[0].Completer)
	assert.NotNil(t, def.OnComplete)
}

func TestBackPolicy(t *testing.T) {
	def, err := New(store.NewInMemoryStore()).Definition()
	require.NoError(t, err)
	canGoBack := BackPolicy(def)
	assert.False(t, canGoBack(1))
	assert.True(t, canGoBack(2))
	assert.True(t, canGoBack(3))

	reordered := &script.Definition{ID: "c", Feature: models.FeatureCandidate, Steps: []script.Step{
		{ID: StepContact}, {ID: StepResume}, {ID: StepSkills},
	}}
	canGoBack = BackPolicy(reordered)
	assert.True(t, canGoBack(1))
	assert.False(t, canGoBack(2))

	noResume := &script.Definition{ID: "c", Feature: models.FeatureCandidate, Steps: []script.Step{
		{ID: StepContact}, {ID: StepSkills},
	}}
	assert.True(t, BackPolicy(noResume)(1))
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name string
		v    func(script.Data) script.Outcome
		data script.Data
		ok   bool
	}{
		{name: "resume pasted", v: validateResume, data: script.Data{"text": "Ada Lovelace\nMathematician"}, ok: true},
		{name: "resume uploaded", v: validateResume, data: script.Data{"file_name": "ada.pdf", "content": "text"}, ok: true},
		{name: "resume empty", v: validateResume, data: script.Data{"file_name": "ada.pdf"}, ok: false},
		{name: "contact text", v: validateContact, data: script.Data{"text": "Ada, ada@example.com, +44 20 7946 0958"}, ok: true},
		{name: "contact form", v: validateContact, data: script.Data{"name": "Ada", "email": "ada@example.com"}, ok: true},
		{name: "contact without email", v: validateContact, data: script.Data{"text": "Ada"}, ok: false},
		{name: "contact bad email", v: validateContact, data: script.Data{"name": "Ada", "email": "ada@"}, ok: false},
		{name: "contact bad phone", v: validateContact, data: script.Data{"name": "Ada", "email": "ada@example.com", "phone": "12"}, ok: false},
		{name: "skills list", v: validateSkills, data: script.Data{"skills": []any{"Go"}}, ok: true},
		{name: "skills text", v: validateSkills, data: script.Data{"text": "Go, SQL"}, ok: true},
		{name: "skills empty", v: validateSkills, data: script.Data{"skills": []any{}}, ok: false},
		{name: "confirm text", v: validateConfirmed, data: script.Data{"text": "confirm"}, ok: true},
		{name: "confirm flag", v: validateConfirmed, data: script.Data{"confirmed": true}, ok: true},
		{name: "not confirmed", v: validateConfirmed, data: script.Data{"text": "wait"}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.v(tt.data).OK())
		})
	}
}

func TestParseContact(t *testing.T) {
	c := parseContact(script.Data{"text": "Ada Lovelace\nada@example.com\n+44 20 7946 0958"})
	assert.Equal(t, contact{Name: "Ada Lovelace", Email: "ada@example.com", Phone: "+44 20 7946 0958"}, c)

	c = parseContact(script.Data{"name": "Ada", "email": "ada@example.com", "text": "ignored"})
	assert.Equal(t, contact{Name: "Ada", Email: "ada@example.com"}, c)
}

func TestCandidateScript(t *testing.T) {
	f := newFixture(t)
	first, err := f.handler.Start(context.Background(), f.session)
	require.NoError(t, err)
	require.NotNil(t, first.Component)
	assert.Equal(t, "candidate-resume", first.Component.Type)
	assert.Equal(t, true, first.Component.Props["allow_paste"])

	assert.Contains(t, f.say(t, "Ada Lovelace. Mathematician."), "contact details")
	assert.Equal(t, "Ada Lovelace. Mathematician.", f.extractor.text)
	resume, _ := f.session.Script.StepData(StepResume)
	assert.Equal(t, "Mathematician and first programmer.", resume[SuggestedSummary])

	assert.Equal(t, "You can't go back from this step.", f.say(t, "/back"))

	assert.Contains(t, f.say(t, "ada lovelace, ADA@example.com"), "skills")
	assert.Contains(t, f.say(t, "/back"), "contact details")
	assert.Contains(t, f.say(t, "countess ada lovelace, ADA@example.com"), "skills")
	assert.Contains(t, f.say(t, "Mathematics, Poetry"), "confirm")
	assert.Equal(t, "The candidate has been saved.", f.say(t, "confirm"))
	assert.True(t, f.session.Closed)

	cands, err := f.store.ListCandidates()
	require.NoError(t, err)
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "cand-1", c.ID)
	assert.Equal(t, "Countess Ada Lovelace", c.Name)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, "+44 20 7946 0958", c.Phone, "phone falls back to the parsed resume")
	assert.Equal(t, []string{"Mathematics", "Poetry"}, c.Skills)
	assert.Equal(t, "Mathematician and first programmer.", c.Summary)
	assert.Equal(t, "s1", c.SessionID)
	assert.True(t, c.CreatedAt.Equal(testNow))
}

func TestCandidateScript_ResumeParseFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	_, err := f.handler.Start(context.Background(), f.session)
	require.NoError(t, err)

	f.extractor.err = errors.New("rate limited")
	assert.Contains(t, f.say(t, "resume text"), "/retry")
	assert.Equal(t, StepResume, f.session.Script.PendingStepID)

	f.extractor.err = nil
	assert.Contains(t, f.say(t, "/retry"), "contact details")
	assert.Equal(t, 2, f.extractor.calls)
}

func TestCandidateScript_WithoutExtractor(t *testing.T) {
	m := New(store.NewInMemoryStore())
	def, err := m.Definition()
	require.NoError(t, err)
	sc := &script.Context{ScriptID: def.ID, AccumulatedData: map[string]script.Data{StepResume: {"text": "x"}}}
	require.NoError(t, m.parseResume(context.Background(), script.Data{"text": "x"}, sc))
	assert.Equal(t, script.Data{"text": "x"}, sc.AccumulatedData[StepResume])
}

func TestBuild_RequiresName(t *testing.T) {
	m := New(store.NewInMemoryStore())
	_, err := m.Build("", map[string]script.Data{StepResume: {"text": "x"}, StepContact: {}, StepSkills: {"text": "Go"}})
	assert.Error(t, err)
}
