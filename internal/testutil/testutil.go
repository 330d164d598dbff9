// Package testutil provides common test helpers for ScriptFlow HTTP and store tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/ScriptFlow/internal/models"
	"github.com/BTreeMap/ScriptFlow/internal/store"
)

// Envelope mirrors models.APIResponse with the result left undecoded.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeEnvelope decodes the JSON envelope written by the API.
func DecodeEnvelope(t testing.TB, rr *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return env
}

// DecodeResult decodes the result of a successful envelope into T.
func DecodeResult[T any](t testing.TB, rr *httptest.ResponseRecorder) T {
	t.Helper()
	env := DecodeEnvelope(t, rr)
	if env.Status != string(models.APIStatusOK) {
		t.Fatalf("expected status ok, got %q (%s)", env.Status, env.Message)
	}
	var out T
	if err := json.Unmarshal(env.Result, &out); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	return out
}

// NewJSONRequest builds a test request. A string body is sent verbatim; anything else
// is marshaled. A nil body sends no content.
func NewJSONRequest(t testing.TB, method, url string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		r = bytes.NewReader(MustMarshalJSON(t, b))
	}
	req := httptest.NewRequest(method, url, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Records is the record side of the store.
type Records interface {
	store.CandidateStore
	store.JobStore
}

// SeedRecords adds one candidate and one job to st.
func SeedRecords(t testing.TB, st Records) (models.Candidate, models.Job) {
	t.Helper()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	c := models.Candidate{
		ID:        "cand-seed",
		Name:      "Ada Lovelace",
		Email:     "ada@example.com",
		Skills:    []string{"Go", "SQL"},
		CreatedAt: created,
	}
	if err := st.AddCandidate(c); err != nil {
		t.Fatalf("failed to seed candidate: %v", err)
	}

	j := models.Job{
		ID:          "job-seed",
		Title:       "Backend Engineer",
		Description: "Build the API.",
		Employment:  models.EmploymentContract,
		CreatedAt:   created,
	}
	if err := st.AddJob(j); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return c, j
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
