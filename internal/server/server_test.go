package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"specline/internal/app"
	"specline/internal/config"
	"specline/internal/db"
	"specline/internal/domain"
	"specline/internal/engine"
	"specline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true})
}

func newTestServerWithAuth(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("specline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	appCtx, err := app.New(workspace, cfg, workspace)
	if err != nil {
		t.Fatalf("app context: %v", err)
	}
	appCtx.Now = func() time.Time { return time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC) }
	e := engine.New(appCtx, conn, nil)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     authCfg,
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
		Engine: e,
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

var worker = map[string]string{"X-Actor-Id": "alice"}

func seedChain(t *testing.T, e engine.Engine) (string, string) {
	t.Helper()
	ctx := context.Background()
	a, err := e.Create(ctx, engine.SpecCreateOptions{Title: "Schema"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := e.Create(ctx, engine.SpecCreateOptions{Title: "API", DependsOn: []string{a.ID}})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	return a.ID, b.ID
}

func TestHealthAndAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/specs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/specs", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, body)
	}
}

func TestListAndBlockers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	aID, bID := seedChain(t, srv.Engine)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/specs", nil, worker)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, body)
	}
	var specs []SpecResponse
	if err := json.Unmarshal(body, &specs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(specs) != 2 || specs[0].DisplayStatus != domain.StatusReady || specs[1].DisplayStatus != domain.StatusBlocked {
		t.Fatalf("unexpected display statuses %+v", specs)
	}
	if specs[1].Status != domain.StatusPending {
		t.Fatalf("stored status must stay pending, got %s", specs[1].Status)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/specs/"+bID+"/blockers", nil, worker)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("blockers: %d %s", res.StatusCode, body)
	}
	var blockers BlockersResponse
	_ = json.Unmarshal(body, &blockers)
	if blockers.Ready || len(blockers.Blockers) != 1 || blockers.Blockers[0].ID != aID {
		t.Fatalf("unexpected blockers %+v", blockers)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/ready", nil, worker)
	var ready []SpecResponse
	_ = json.Unmarshal(body, &ready)
	if res.StatusCode != http.StatusOK || len(ready) != 1 || ready[0].ID != aID {
		t.Fatalf("unexpected ready %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/graph/order", nil, worker)
	var order OrderResponse
	_ = json.Unmarshal(body, &order)
	if res.StatusCode != http.StatusOK || len(order.Order) != 2 || order.Order[0] != aID {
		t.Fatalf("unexpected order %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/specs/"+aID, nil, worker)
	var shown SpecResponse
	_ = json.Unmarshal(body, &shown)
	if res.StatusCode != http.StatusOK || shown.Title != "Schema" || !strings.Contains(shown.Body, "# Schema") {
		t.Fatalf("unexpected show %d %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/specs/2026-01-25-099-zzz", nil, worker)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestTransitionPermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	aID, _ := seedChain(t, srv.Engine)
	url := srv.URL + "/v0/specs/" + aID + "/transition"

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{"status": "completed"}, worker)
	if res.StatusCode != http.StatusConflict || !strings.Contains(string(body), "illegal_transition") {
		t.Fatalf("expected illegal transition, got %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"status": "completed", "force": true}, worker)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("worker must not force, got %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"status": "bogus"}, worker)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d %s", res.StatusCode, body)
	}

	token, err := signDevToken(testSecret, "root", []string{"owner"}, nil, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	owner := map[string]string{"Authorization": "Bearer " + token}
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"status": "completed", "force": true, "reason": "imported"}, owner)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner force: %d %s", res.StatusCode, body)
	}
	var spec SpecResponse
	_ = json.Unmarshal(body, &spec)
	if spec.Status != domain.StatusCompleted || spec.CompletedAt == "" {
		t.Fatalf("unexpected spec %+v", spec)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=spec.forced", nil, owner)
	var page paginatedEvents
	_ = json.Unmarshal(body, &page)
	if res.StatusCode != http.StatusOK || len(page.Items) != 1 || page.Items[0].Actor != "root" {
		t.Fatalf("unexpected events %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, owner)
	var who WhoAmIResponse
	_ = json.Unmarshal(body, &who)
	if res.StatusCode != http.StatusOK || who.ActorID != "root" || len(who.Permissions) != 4 {
		t.Fatalf("unexpected me %d %s", res.StatusCode, body)
	}
}

func TestDevLoginAbsentByDefault(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret})
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/auth/dev/login"
	login := map[string]any{"actor_id": "mallory", "permissions": []string{"spec.force"}}

	res, body := doJSON(t, client, http.MethodPost, url, login, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, body)
	}

	token, err := signDevToken(testSecret, "root", []string{"viewer"}, nil, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	viewer := map[string]string{"Authorization": "Bearer " + token}
	res, body = doJSON(t, client, http.MethodPost, url, login, viewer)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected dev login route to be absent, got %d %s", res.StatusCode, body)
	}
}

func TestDevLoginNeverGrantsForce(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, DevLogin: true})
	defer cleanup()
	client := srv.Client()
	aID, _ := seedChain(t, srv.Engine)
	url := srv.URL + "/v0/auth/dev/login"

	for _, login := range []map[string]any{
		{"actor_id": "mallory", "permissions": []string{"spec.force"}},
		{"actor_id": "mallory", "roles": []string{"owner"}},
	} {
		res, body := doJSON(t, client, http.MethodPost, url, login, nil)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for %v, got %d %s", login, res.StatusCode, body)
		}
	}

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{"actor_id": "dev", "roles": []string{"worker"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("worker login: %d %s", res.StatusCode, body)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil || login.Token == "" {
		t.Fatalf("unexpected login response %s", body)
	}
	dev := map[string]string{"Authorization": "Bearer " + login.Token}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/specs/"+aID+"/transition",
		map[string]any{"status": "completed", "force": true}, dev)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("dev token must not force, got %d %s", res.StatusCode, body)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	seedChain(t, srv.Engine)

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=1", nil, worker)
	var page paginatedEvents
	_ = json.Unmarshal(body, &page)
	if res.StatusCode != http.StatusOK || len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("unexpected first page %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=1&cursor="+page.NextCursor, nil, worker)
	var next paginatedEvents
	_ = json.Unmarshal(body, &next)
	if res.StatusCode != http.StatusOK || len(next.Items) != 1 || next.NextCursor != "" || next.Items[0].Seq <= page.Items[0].Seq {
		t.Fatalf("unexpected second page %d %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, worker)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", res.StatusCode)
	}
}

func TestIDs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/ids/web-2026-01-25-001-abc.2", nil, worker)
	var parsed IDResponse
	_ = json.Unmarshal(body, &parsed)
	if res.StatusCode != http.StatusOK || parsed.Project != "web" || parsed.DriverID != "web-2026-01-25-001-abc" || parsed.Sequence != "001" {
		t.Fatalf("unexpected parse %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/ids/2026-01-25-001-abc.01", nil, worker)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/ids", nil, worker)
	var generated IDResponse
	_ = json.Unmarshal(body, &generated)
	if res.StatusCode != http.StatusOK || generated.Date != "2026-01-25" || generated.Sequence != "001" {
		t.Fatalf("unexpected generated id %d %s", res.StatusCode, body)
	}
}

func TestResolveUnknownRepo(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/resolve/backend:2026-01-25-001-abc", nil, worker)
	if res.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "unresolved_dependency") {
		t.Fatalf("expected unresolved dependency, got %d %s", res.StatusCode, body)
	}
}

func TestCycleConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	aID, bID := seedChain(t, srv.Engine)
	a, err := srv.Engine.Get(aID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a.DependsOn = []string{bID}
	if err := srv.Engine.Repo.Save(a); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/graph/order", nil, worker)
	if res.StatusCode != http.StatusConflict || !strings.Contains(string(body), "cycle_detected") {
		t.Fatalf("expected cycle conflict, got %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/graph/cycles", nil, worker)
	var cycles CyclesResponse
	_ = json.Unmarshal(body, &cycles)
	if res.StatusCode != http.StatusOK || len(cycles.Cycles) != 1 {
		t.Fatalf("unexpected cycles %d %s", res.StatusCode, body)
	}
}
