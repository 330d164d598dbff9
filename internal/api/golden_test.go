package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/BTreeMap/ScriptFlow/internal/testutil"
)

// TestOpenSession_WireShape pins the JSON the rendering layer receives for a new
// scripted session: the greeting, then the first prompt with its step metadata and
// component reference.
func TestOpenSession_WireShape(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(t, s, http.MethodPost, "/sessions", `{"feature":"job"}`)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "open session")

	var out bytes.Buffer
	if err := json.Indent(&out, rr.Body.Bytes(), "", "  "); err != nil {
		t.Fatalf("failed to indent response: %v", err)
	}
	out.WriteByte('\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "open_job_session", out.Bytes())
}
