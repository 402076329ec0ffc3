package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"normgate/internal/catalog"
	"normgate/internal/judge"
	"normgate/internal/resultstore"
)

const testNormJSON = `{
  "id": "pn:art16:registration",
  "title": "Registration obligation",
  "legal_consequence": {"verbatim": "shall register the system"},
  "requirements": {
    "root": "root",
    "nodes": [
      {"id": "root", "kind": "composite", "operator": "allOf", "children": ["is-provider", "is-high-risk"]},
      {"id": "is-provider", "kind": "primitive", "question": {"prompt": "Is the entity a provider?"}},
      {"id": "is-high-risk", "kind": "primitive", "question": {"prompt": "Is the system high-risk?"}}
    ]
  }
}`

func newTestServer(t *testing.T, oracle judge.Judge) (*apiServer, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prescriptive-norms"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prescriptive-norms", "art16.json"), []byte(testNormJSON), 0o644))
	cat, err := catalog.Load(dir)
	require.NoError(t, err)

	s := newAPIServer(cat, resultstore.NewMemoryStore(), oracle)
	ts := httptest.NewServer(buildMux(s))
	t.Cleanup(ts.Close)
	return s, ts
}

func postEvaluate(t *testing.T, ts *httptest.Server, body string) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/evaluate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		EvaluationID string `json:"evaluationId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.EvaluationID)
	return out.EvaluationID
}

func waitForStatus(t *testing.T, ts *httptest.Server, id, status string) resultstore.Evaluation {
	t.Helper()
	var ev resultstore.Evaluation
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/evaluations/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
			return false
		}
		return ev.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return ev
}

func TestEvaluateEndToEnd(t *testing.T) {
	oracle := judge.NewFakeJudge(false,
		judge.FakeRule{Match: "provider", Decision: true},
		judge.FakeRule{Match: "high-risk", Decision: true},
	)
	_, ts := newTestServer(t, oracle)

	id := postEvaluate(t, ts, `{"normId": "pn:art16:registration", "caseText": "ACME provides a CV screening system."}`)
	ev := waitForStatus(t, ts, id, resultstore.StatusCompleted)
	require.NotNil(t, ev.RootDecision)
	require.True(t, *ev.RootDecision)

	// Reconstruction from the persisted rows agrees with the live outcome.
	resp, err := http.Post(ts.URL+"/api/evaluations/"+id+"/reconstruct", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec struct {
		RootDecision      *bool `json:"rootDecision"`
		PrimitiveTotal    int   `json:"primitiveTotal"`
		PrimitiveResolved int   `json:"primitiveResolved"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.NotNil(t, rec.RootDecision)
	require.True(t, *rec.RootDecision)
	require.Equal(t, 2, rec.PrimitiveTotal)
	require.Equal(t, 2, rec.PrimitiveResolved)
}

func TestEvaluateValidation(t *testing.T) {
	_, ts := newTestServer(t, judge.NewFakeJudge(true))

	resp, err := http.Post(ts.URL+"/api/evaluate", "application/json", strings.NewReader(`{"normId": "pn:absent", "caseText": "x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/evaluate", "application/json", strings.NewReader(`{"normId": ""}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/evaluate", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogEndpoints(t *testing.T) {
	_, ts := newTestServer(t, judge.NewFakeJudge(true))

	resp, err := http.Get(ts.URL + "/api/catalog")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listing struct {
		Norms []struct {
			ID string `json:"id"`
		} `json:"norms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Norms, 1)

	resp, err = http.Get(ts.URL + "/api/prescriptive/pn:art16:registration")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/prescriptive/pn:absent")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWatchSSEDeliversTerminalEvent(t *testing.T) {
	oracle := judge.NewFakeJudge(true)
	_, ts := newTestServer(t, oracle)

	id := postEvaluate(t, ts, `{"normId": "pn:art16:registration", "caseText": "case"}`)
	waitForStatus(t, ts, id, resultstore.StatusCompleted)

	// A watcher attached after completion still gets the final frame.
	resp, err := http.Get(ts.URL + "/api/watch/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	var last watchEvent
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(payload, []byte("{}")) {
			continue
		}
		require.NoError(t, json.Unmarshal(payload, &last))
	}
	require.Equal(t, eventComplete, last.Type)
	require.NotNil(t, last.RootDecision)
	require.True(t, *last.RootDecision)
}

func TestWatchUnknownEvaluation(t *testing.T) {
	_, ts := newTestServer(t, judge.NewFakeJudge(true))
	resp, err := http.Get(ts.URL + "/api/watch/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegistryReplayAndFanout(t *testing.T) {
	r := newWatchRegistry()
	r.create("e1")

	ch1, cancel1, err := r.subscribe("e1")
	require.NoError(t, err)
	defer cancel1()

	r.publish("e1", watchEvent{EvaluationID: "e1", Type: eventState})
	ev := <-ch1
	require.Equal(t, eventState, ev.Type)

	// Late subscriber sees the last event first.
	ch2, cancel2, err := r.subscribe("e1")
	require.NoError(t, err)
	defer cancel2()
	ev = <-ch2
	require.Equal(t, eventState, ev.Type)

	decision := true
	r.publish("e1", watchEvent{EvaluationID: "e1", Type: eventComplete, RootDecision: &decision})
	ev = <-ch1
	require.Equal(t, eventComplete, ev.Type)
	_, open := <-ch1
	require.False(t, open, "terminal event closes the stream")

	// After the terminal event a fresh subscriber still gets it.
	ch3, cancel3, err := r.subscribe("e1")
	require.NoError(t, err)
	defer cancel3()
	ev, open = <-ch3
	require.True(t, open)
	require.Equal(t, eventComplete, ev.Type)

	_, _, err = r.subscribe("absent")
	require.Error(t, err)
}
