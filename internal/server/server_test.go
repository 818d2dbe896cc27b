package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"commitline/internal/config"
	"commitline/internal/db"
	"commitline/internal/engine"
	"commitline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("site-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createWorkItem(t *testing.T, srv *testServer, title string) WorkItemResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items", map[string]any{
		"title":         title,
		"location":      "Zone A",
		"owner_user_id": "foreman-1",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work item status %d: %s", res.StatusCode, string(data))
	}
	var w WorkItemResponse
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal work item: %v", err)
	}
	return w
}

func readyWorkItem(t *testing.T, srv *testServer, title string) WorkItemResponse {
	t.Helper()
	w := createWorkItem(t, srv, title)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items/"+w.ID+"/constraints", map[string]any{
		"type": "Materials",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add constraint status %d: %s", res.StatusCode, string(data))
	}
	var c ConstraintResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal constraint: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/constraints/"+c.ID+"/clear", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear constraint status %d: %s", res.StatusCode, string(data))
	}
	return w
}

func TestCommitRefusalEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := createWorkItem(t, srv, "Not ready yet")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items/"+w.ID+"/constraints", map[string]any{
		"type": "Permits",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add constraint status %d: %s", res.StatusCode, string(data))
	}
	var c ConstraintResponse
	_ = json.Unmarshal(data, &c)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items/"+w.ID+"/commitments", map[string]any{
		"due_at": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}, actorHeader)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				RefusalCode       string   `json:"refusal_code"`
				OpenConstraintIDs []string `json:"open_constraint_ids"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v: %s", err, string(data))
	}
	if envelope.Error.Code != "refusal" {
		t.Fatalf("expected code refusal, got %q", envelope.Error.Code)
	}
	if envelope.Error.Details.RefusalCode != "not_ready" {
		t.Fatalf("expected refusal_code not_ready, got %q", envelope.Error.Details.RefusalCode)
	}
	if len(envelope.Error.Details.OpenConstraintIDs) != 1 || envelope.Error.Details.OpenConstraintIDs[0] != c.ID {
		t.Fatalf("expected open constraint %s cited, got %v", c.ID, envelope.Error.Details.OpenConstraintIDs)
	}
}

func TestCommitLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := readyWorkItem(t, srv, "Hang doors")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items/"+w.ID+"/commitments", map[string]any{
		"due_at": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("commit status %d: %s", res.StatusCode, string(data))
	}
	var commitment CommitmentResponse
	if err := json.Unmarshal(data, &commitment); err != nil {
		t.Fatalf("unmarshal commitment: %v", err)
	}
	if commitment.Status != "Active" {
		t.Fatalf("expected Active, got %s", commitment.Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/commitments/"+commitment.ID+"/complete", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}
	var done CommitmentResponse
	_ = json.Unmarshal(data, &done)
	if done.Status != "Complete" {
		t.Fatalf("expected Complete, got %s", done.Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/work-items/"+w.ID, nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get work item status %d: %s", res.StatusCode, string(data))
	}
	var detail WorkItemDetailResponse
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.State != "Complete" {
		t.Fatalf("expected Complete state, got %s", detail.State)
	}
	if len(detail.Constraints) != 1 || len(detail.Commitments) != 1 {
		t.Fatalf("expected embedded constraint and commitment, got %d/%d", len(detail.Constraints), len(detail.Commitments))
	}
}

func TestFailCommitmentProducesSignal(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := readyWorkItem(t, srv, "Pour slab")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items/"+w.ID+"/commitments", map[string]any{
		"due_at": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("commit status %d: %s", res.StatusCode, string(data))
	}
	var commitment CommitmentResponse
	_ = json.Unmarshal(data, &commitment)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/commitments/"+commitment.ID+"/fail", map[string]any{
		"primary_cause":   "Weather",
		"secondary_cause": "Storm closed the site",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fail status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Commitment CommitmentResponse     `json:"commitment"`
		Signal     LearningSignalResponse `json:"signal"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal fail response: %v", err)
	}
	if out.Commitment.Status != "Failed" {
		t.Fatalf("expected Failed, got %s", out.Commitment.Status)
	}
	if out.Signal.PrimaryCause != "Weather" {
		t.Fatalf("expected Weather cause, got %s", out.Signal.PrimaryCause)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/signals/drilldown", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("drilldown status %d: %s", res.StatusCode, string(data))
	}
	var rows []DrilldownRowResponse
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("unmarshal drilldown: %v", err)
	}
	if len(rows) != 1 || rows[0].Count != 1 || rows[0].PrimaryCause != "Weather" {
		t.Fatalf("unexpected drilldown rows: %+v", rows)
	}
}

func TestModifyCommitmentRefused(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	w := readyWorkItem(t, srv, "Immutable over HTTP")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-items/"+w.ID+"/commitments", map[string]any{
		"due_at": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("commit status %d: %s", res.StatusCode, string(data))
	}
	var commitment CommitmentResponse
	_ = json.Unmarshal(data, &commitment)

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/commitments/"+commitment.ID, map[string]any{
		"due_at": time.Now().Add(96 * time.Hour).UTC().Format(time.RFC3339),
	}, actorHeader)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "refusal" {
		t.Fatalf("expected refusal, got %q", envelope.Error.Code)
	}
	if envelope.Error.Details["refusal_code"] != "immutable_field" {
		t.Fatalf("expected immutable_field, got %v", envelope.Error.Details["refusal_code"])
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/work-items", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}
