package server_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"socialbrain/internal/activity"
	"socialbrain/internal/budget"
	"socialbrain/internal/db"
	"socialbrain/internal/domain"
	"socialbrain/internal/migrate"
	"socialbrain/internal/proof"
	"socialbrain/internal/registry"
	"socialbrain/internal/server"
)

type testEnv struct {
	srv        *httptest.Server
	conn       *sql.DB
	token      string
	errorsSeen *atomic.Int64
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatal(err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := zap.NewNop()
	journal := activity.New(t.TempDir(), log)
	var errorsSeen atomic.Int64
	handler, err := server.New(server.Config{
		Registry:  registry.New(conn, journal, log),
		Ledger:    budget.New(conn, nil, 1.0, log),
		Proof:     proof.New(t.TempDir(), "http://127.0.0.1:1", log),
		Journal:   journal,
		Token:     token,
		Log:       log,
		ErrorHook: func() { errorsSeen.Add(1) },
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, conn: conn, token: token, errorsSeen: &errorsSeen}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+"/api"+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("X-Brain-Token", e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

type errEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.request(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestAuthEnforcement(t *testing.T) {
	env := newTestEnv(t, "sekrit")

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/stats", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", resp.StatusCode)
	}

	// Health stays open even with a token configured.
	req, _ = http.NewRequest(http.MethodGet, env.srv.URL+"/api/health", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health exempt: status = %d", resp.StatusCode)
	}

	resp2, _ := env.request(t, http.MethodGet, "/stats", nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("with token: status = %d", resp2.StatusCode)
	}
}

func TestMissionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.request(t, http.MethodPost, "/missions", server.CreateMissionRequest{
		Type:     string(domain.MissionPostSchedule),
		ClientID: "acme",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: status = %d, body %s", resp.StatusCode, body)
	}
	m := decode[domain.Mission](t, body)
	if m.Status != domain.StatusQueued || m.Context != "{}" {
		t.Fatalf("created = %+v", m)
	}

	resp, body = env.request(t, http.MethodPatch, "/missions/"+m.ID+"/status", server.UpdateStatusRequest{Status: string(domain.StatusExecuting)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status update: %d, body %s", resp.StatusCode, body)
	}

	resp, body = env.request(t, http.MethodPatch, "/missions/"+m.ID+"/result", server.UpdateResultRequest{Result: `{"post_url":"https://x.com/1"}`})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result update: %d, body %s", resp.StatusCode, body)
	}

	resp, _ = env.request(t, http.MethodPatch, "/missions/"+m.ID+"/status", server.UpdateStatusRequest{Status: string(domain.StatusCompleted)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d", resp.StatusCode)
	}

	// Terminal missions reject further writes with a conflict.
	resp, body = env.request(t, http.MethodPatch, "/missions/"+m.ID+"/status", server.UpdateStatusRequest{Status: string(domain.StatusFailed)})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("terminal write: %d, body %s", resp.StatusCode, body)
	}
	env2 := decode[errEnvelope](t, body)
	if env2.Error.Code != "mission_terminal" {
		t.Fatalf("code = %q", env2.Error.Code)
	}

	resp, body = env.request(t, http.MethodGet, "/missions/"+m.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("get after complete")
	}
	got := decode[domain.Mission](t, body)
	if got.Status != domain.StatusCompleted || got.Result == nil || got.CompletedAt == nil {
		t.Fatalf("final = %+v", got)
	}
}

func TestMissionNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.request(t, http.MethodGet, "/missions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	e := decode[errEnvelope](t, body)
	if e.Error.Code != "not_found" {
		t.Fatalf("code = %q", e.Error.Code)
	}
}

func TestMissionValidationError(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.request(t, http.MethodPost, "/missions", server.CreateMissionRequest{Type: string(domain.MissionAgentChat)})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestMissionListFilters(t *testing.T) {
	env := newTestEnv(t, "")
	for _, c := range []string{"acme", "acme", "globex"} {
		resp, body := env.request(t, http.MethodPost, "/missions", server.CreateMissionRequest{
			Type: string(domain.MissionRalphLoop), ClientID: c,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create: %d, body %s", resp.StatusCode, body)
		}
	}

	resp, body := env.request(t, http.MethodGet, "/missions?client_id=acme", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	list := decode[server.MissionListResponse](t, body)
	if len(list.Missions) != 2 {
		t.Fatalf("acme missions = %d", len(list.Missions))
	}

	resp, body = env.request(t, http.MethodGet, "/missions/active/globex", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active: %d", resp.StatusCode)
	}
	list = decode[server.MissionListResponse](t, body)
	if len(list.Missions) != 1 {
		t.Fatalf("globex active = %d", len(list.Missions))
	}
}

func TestCostRecordAndTotals(t *testing.T) {
	env := newTestEnv(t, "")

	_, body := env.request(t, http.MethodPost, "/missions", server.CreateMissionRequest{
		Type: string(domain.MissionAgentChat), ClientID: "acme",
	})
	m := decode[domain.Mission](t, body)

	// Budget limit is 1.0 USD in the test env; 200k output tokens at the
	// fallback rate costs 0.8, two entries cross the line.
	for i := 0; i < 2; i++ {
		resp, body := env.request(t, http.MethodPost, "/costs", server.RecordCostRequest{
			ClientID:     "acme",
			MissionID:    m.ID,
			Model:        "mystery-model",
			Provider:     string(domain.ProviderAnthropic),
			InputTokens:  1000,
			OutputTokens: 200_000,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("record: %d, body %s", resp.StatusCode, body)
		}
	}

	resp, body := env.request(t, http.MethodGet, "/costs/mission/"+m.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mission cost: %d", resp.StatusCode)
	}
	total := decode[server.CostTotalResponse](t, body)
	if total.TotalUSD <= 1.0 || !total.OverBudget {
		t.Fatalf("total = %+v", total)
	}

	resp, body = env.request(t, http.MethodGet, "/costs/fallback", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fallback: %d", resp.StatusCode)
	}
	fb := decode[domain.FallbackStats](t, body)
	if fb.FallbackRate != 1.0 {
		t.Fatalf("fallback rate = %v", fb.FallbackRate)
	}
}

func TestClassifyPreview(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.request(t, http.MethodPost, "/classify", server.ClassifyRequest{
		Message: "click the publish button on linkedin",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("classify: %d, body %s", resp.StatusCode, body)
	}
	out := decode[server.ClassifyResponse](t, body)
	if out.Model != "gemini-2.0-flash" || !out.CompactPrompt {
		t.Fatalf("classify = %+v", out)
	}
}

func TestToolsWithoutCompanion(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.request(t, http.MethodPost, "/tools", map[string]any{"name": "screenshot"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInternalErrorsFeedErrorHook(t *testing.T) {
	env := newTestEnv(t, "")

	// 4xx responses never count.
	resp, _ := env.request(t, http.MethodGet, "/missions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := env.errorsSeen.Load(); n != 0 {
		t.Fatalf("error hook calls after 404 = %d", n)
	}

	env.conn.Close()
	resp, _ = env.request(t, http.MethodGet, "/stats", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if n := env.errorsSeen.Load(); n != 1 {
		t.Fatalf("error hook calls = %d", n)
	}
}

func TestProofNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.request(t, http.MethodGet, "/proof/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
