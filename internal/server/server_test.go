package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oj-federate/rmjac/internal/auth"
	"github.com/oj-federate/rmjac/internal/authcrypto"
	"github.com/oj-federate/rmjac/internal/config"
	"github.com/oj-federate/rmjac/internal/entity"
	"github.com/oj-federate/rmjac/internal/iden"
	"github.com/oj-federate/rmjac/internal/kv"
	"github.com/oj-federate/rmjac/internal/store/memory"
	"github.com/oj-federate/rmjac/internal/vjudge"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := memory.New()
	cache := kv.New(st, time.Minute, time.Minute)
	trie := iden.New(st, cache, nil)
	if err := trie.EnsureRoot(context.Background()); err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}

	perms := entity.NewPermRegistry(st)
	if err := perms.Boot(context.Background()); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	hasher := authcrypto.NewBcryptHasher(4)
	authSvc := auth.New(st, cache, hasher, time.Hour, 30*24*time.Hour)
	registry := vjudge.NewRegistry()
	aggregator := vjudge.NewAggregator(st, cache)

	cfg := config.Server{BasePath: "", Port: "0", Host: "127.0.0.1", AdminToken: "test-admin-token"}
	return New(cfg, st, trie, perms, authSvc, hasher, registry, aggregator, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, rec.Body.String())
	}
	return out
}

func TestRegisterLoginInfoFlow(t *testing.T) {
	s := newTestServer(t)

	regRec := doJSON(t, s, http.MethodPost, "/api/user/auth/register", registerRequest{
		Iden: "alice", Name: "Alice", Email: "alice@example.com", Password: "hunter2",
	})
	if regRec.Code != http.StatusOK {
		t.Fatalf("register: got status %d body %s", regRec.Code, regRec.Body.String())
	}

	loginRec := doJSON(t, s, http.MethodPost, "/api/user/auth/login", loginRequest{
		User: "alice", Password: "hunter2",
	})
	if loginRec.Code != http.StatusOK {
		t.Fatalf("login: got status %d body %s", loginRec.Code, loginRec.Body.String())
	}
	env := decodeEnvelope(t, loginRec)
	data, _ := env["data"].(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatalf("login response carried no token: %v", env)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/user/info/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	infoEnv := decodeEnvelope(t, rec)
	infoData, _ := infoEnv["data"].(map[string]any)
	if isLogin, _ := infoData["is_login"].(bool); !isLogin {
		t.Fatalf("expected is_login=true once bearer token supplied, got %v", infoEnv)
	}
}

func TestInfoAnonymousWithoutToken(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/user/info/info", nil)
	env := decodeEnvelope(t, rec)
	data, _ := env["data"].(map[string]any)
	if isLogin, _ := data["is_login"].(bool); isLogin {
		t.Fatalf("expected anonymous visitor without a token, got %v", env)
	}
}

func TestLoginWrongPasswordUnauthorized(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/user/auth/register", registerRequest{
		Iden: "bob", Password: "correct-horse",
	})

	rec := doJSON(t, s, http.MethodPost, "/api/user/auth/login", loginRequest{
		User: "bob", Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on bad credentials, got %d", rec.Code)
	}
}

func TestCreateAndViewProblemRoundTrip(t *testing.T) {
	s := newTestServer(t)

	createRec := doJSON(t, s, http.MethodPost, "/api/problem/create/", createProblemRequest{
		ProblemIden: "abc-123",
		ProblemName: "A Plus B",
		ProblemStatement: []statementProp{
			{Iden: "main", Source: "compute a+b", TimeLimit: 1000, MemoryLimit: 256},
		},
		Tags: []string{"math"},
	})
	if createRec.Code != http.StatusOK {
		t.Fatalf("create problem: got status %d body %s", createRec.Code, createRec.Body.String())
	}

	viewRec := doJSON(t, s, http.MethodGet, "/api/problem/view/abc-123", nil)
	if viewRec.Code != http.StatusOK {
		t.Fatalf("view problem: got status %d body %s", viewRec.Code, viewRec.Body.String())
	}
	env := decodeEnvelope(t, viewRec)
	data, _ := env["data"].(map[string]any)
	model, _ := data["model"].(map[string]any)
	if name, _ := model["name"].(string); name != "A Plus B" {
		t.Fatalf("expected resolved problem name, got %v", env)
	}
}

func TestViewUnknownProblemIsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/problem/view/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unresolved iden, got %d", rec.Code)
	}
}

func TestSettingsGroupRequiresAdminToken(t *testing.T) {
	s := newTestServer(t)

	noAuthRec := doJSON(t, s, http.MethodPost, "/api/settings/rotate-key", rotateKeyRequest{PublicKey: "x"})
	if noAuthRec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin bearer token, got %d", noAuthRec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/settings/rotate-key", bytes.NewBufferString(`{"public_key":"x"}`))
	req.Header.Set("Authorization", "Bearer test-admin-token")
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct admin token, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAddStatementRequiresProblemOwnership(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/api/user/auth/register", registerRequest{Iden: "owner", Password: "pw"})
	loginRec := doJSON(t, s, http.MethodPost, "/api/user/auth/login", loginRequest{User: "owner", Password: "pw"})
	env := decodeEnvelope(t, loginRec)
	data, _ := env["data"].(map[string]any)
	token, _ := data["token"].(string)

	createReq := httptest.NewRequest(http.MethodPost, "/api/problem/create/", bytes.NewBufferString(
		`{"problem_iden":"owned","problem_name":"Owned Problem"}`))
	createReq.Header.Set("Authorization", "Bearer "+token)
	createRec := httptest.NewRecorder()
	s.server.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create problem: got status %d body %s", createRec.Code, createRec.Body.String())
	}

	unauthedRec := doJSON(t, s, http.MethodPost, "/api/problem/manage/owned/add_statement", statementProp{
		Iden: "extra", Source: "more text", TimeLimit: 1000, MemoryLimit: 256,
	})
	if unauthedRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 adding a statement without ownership, got %d body %s", unauthedRec.Code, unauthedRec.Body.String())
	}

	authedReq := httptest.NewRequest(http.MethodPost, "/api/problem/manage/owned/add_statement", bytes.NewBufferString(
		`{"iden":"extra","source":"more text","time_limit":1000,"memory_limit":256}`))
	authedReq.Header.Set("Authorization", "Bearer "+token)
	authedRec := httptest.NewRecorder()
	s.server.ServeHTTP(authedRec, authedReq)
	if authedRec.Code != http.StatusOK {
		t.Fatalf("expected 200 adding a statement as the owning user, got %d body %s", authedRec.Code, authedRec.Body.String())
	}
}

func TestAuthTokenAcceptedFromQueryParam(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/user/auth/register", registerRequest{Iden: "carol", Password: "pw"})
	loginRec := doJSON(t, s, http.MethodPost, "/api/user/auth/login", loginRequest{User: "carol", Password: "pw"})
	env := decodeEnvelope(t, loginRec)
	data, _ := env["data"].(map[string]any)
	token, _ := data["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/user/info/info?token="+token, nil)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	infoEnv := decodeEnvelope(t, rec)
	infoData, _ := infoEnv["data"].(map[string]any)
	if isLogin, _ := infoData["is_login"].(bool); !isLogin {
		t.Fatalf("expected token query param to authenticate, got %v", infoEnv)
	}
}
