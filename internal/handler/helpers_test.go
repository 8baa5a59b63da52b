package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/rewear/internal/backend"
	"github.com/hitoshi/rewear/internal/client"
	"github.com/hitoshi/rewear/internal/metrics"
	"github.com/hitoshi/rewear/internal/middleware"
	"github.com/hitoshi/rewear/internal/model"
)

// --- モック ---

type fakeUser struct {
	id       string
	password string
	username string
}

// fakeAuth はメモリ上のユーザーでサインアップ・サインインを行う。
// アクセストークンは "tok-<id>"、リフレッシュトークンは "ref-<id>"。
type fakeAuth struct {
	mu    sync.Mutex
	users map[string]fakeUser
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{users: make(map[string]fakeUser)}
}

func (a *fakeAuth) sessionFor(email string, u fakeUser) *model.Session {
	return &model.Session{
		AccessToken:  "tok-" + u.id,
		RefreshToken: "ref-" + u.id,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.Account{ID: u.id, Email: email, Username: u.username},
	}
}

func (a *fakeAuth) SignUp(_ context.Context, email, password, username string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[email]; ok {
		return nil, model.NewDuplicateAccountError()
	}
	u := fakeUser{id: fmt.Sprintf("user-%d", len(a.users)+1), password: password, username: username}
	a.users[email] = u
	return a.sessionFor(email, u), nil
}

func (a *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[email]
	if !ok || u.password != password {
		return nil, model.NewInvalidCredentialsError("")
	}
	return a.sessionFor(email, u), nil
}

func (a *fakeAuth) RefreshSession(_ context.Context, token string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for email, u := range a.users {
		if token == "ref-"+u.id {
			return a.sessionFor(email, u), nil
		}
	}
	return nil, model.NewInvalidSessionError()
}

func (a *fakeAuth) SignOut(context.Context, string) error { return nil }

func (a *fakeAuth) ResetPasswordForEmail(context.Context, string) error { return nil }

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]model.Account
}

func (m *memAccounts) FindAccount(_ context.Context, _, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memAccounts) InsertAccount(_ context.Context, _ string, account *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = *account
	return nil
}

// memItems はアクセストークンの所有者でのみ読み書きできるアイテムストア。
type memItems struct {
	mu    sync.Mutex
	seq   int
	items map[string]model.ClothingItem
}

func (m *memItems) ListByOwner(_ context.Context, token, ownerID string) ([]model.ClothingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ClothingItem{}
	if token != "tok-"+ownerID {
		return out, nil
	}
	for _, it := range m.items {
		if it.OwnerID == ownerID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memItems) Insert(_ context.Context, token string, item *model.ClothingItem) (*model.ClothingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token != "tok-"+item.OwnerID {
		return nil, model.NewRowSecurityError()
	}
	m.seq++
	created := *item
	created.ID = fmt.Sprintf("item-%d", m.seq)
	if created.Status == "" {
		created.Status = model.ItemStatusAvailable
	}
	m.items[created.ID] = created
	return &created, nil
}

func (m *memItems) UpdateByIDAndOwner(_ context.Context, token, id, ownerID string, upd model.ItemUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.OwnerID != ownerID || token != "tok-"+ownerID {
		return 0, nil
	}
	if upd.Title != nil {
		it.Title = *upd.Title
	}
	if upd.Status != nil {
		it.Status = *upd.Status
	}
	m.items[id] = it
	return 1, nil
}

func (m *memItems) DeleteByIDAndOwner(_ context.Context, token, id, ownerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.OwnerID != ownerID || token != "tok-"+ownerID {
		return 0, nil
	}
	delete(m.items, id)
	return 1, nil
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return fmt.Errorf("connection refused") }

// --- テストサーバー ---

type testEnv struct {
	server   *httptest.Server
	registry *client.Registry
	auth     *fakeAuth
	items    *memItems
	promReg  *prometheus.Registry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestBackend() (*backend.Backend, *fakeAuth, *memItems) {
	auth := newFakeAuth()
	items := &memItems{items: make(map[string]model.ClothingItem)}
	b := &backend.Backend{
		Name:     "test",
		Auth:     auth,
		Accounts: &memAccounts{accounts: make(map[string]model.Account)},
		Items:    items,
	}
	return b, auth, items
}

// newTestEnv はバックエンドを指定してAPIサーバーを起動する。bがnilの場合はデモモード。
func newTestEnv(t *testing.T, b *backend.Backend, checker HealthChecker) *testEnv {
	t.Helper()
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)
	reg := client.NewRegistry(b, nil, testLogger(), collector, time.Hour)

	router := NewRouter(&RouterDeps{
		Registry:          reg,
		Mode:              reg,
		Cookies:           middleware.CookieConfig{MaxAge: 3600},
		CORSAllowedOrigin: "http://localhost:5173",
		Logger:            testLogger(),
		Metrics:           collector,
		Gatherer:          promReg,
		HealthChecker:     checker,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return &testEnv{server: srv, registry: reg, promReg: promReg}
}

func newLiveEnv(t *testing.T) *testEnv {
	t.Helper()
	b, auth, items := newTestBackend()
	env := newTestEnv(t, b, nil)
	env.auth = auth
	env.items = items
	return env
}

// browser はCookieを保持し、CSRFトークンを付けてリクエストするクライアント。
type browser struct {
	t    *testing.T
	base string
	http *http.Client
	jar  *cookiejar.Jar
	csrf string
}

func newBrowser(t *testing.T, env *testEnv) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &browser{t: t, base: env.server.URL, http: &http.Client{Jar: jar}, jar: jar}
}

func (b *browser) fetchCSRF() {
	b.t.Helper()
	var body struct {
		Token string `json:"token"`
	}
	resp := b.do(http.MethodGet, "/api/csrf-token", nil)
	decodeBody(b.t, resp, &body)
	b.csrf = body.Token
}

func (b *browser) do(method, path string, body any) *http.Response {
	b.t.Helper()
	var r io.Reader
	if body != nil {
		switch v := body.(type) {
		case string:
			r = bytes.NewBufferString(v)
		default:
			buf, err := json.Marshal(v)
			if err != nil {
				b.t.Fatalf("failed to marshal: %v", err)
			}
			r = bytes.NewReader(buf)
		}
	}
	req, err := http.NewRequest(method, b.base+path, r)
	if err != nil {
		b.t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if b.csrf == "" {
			b.fetchCSRF()
		}
		req.Header.Set("X-CSRF-Token", b.csrf)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	b.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) cookie(name string) *http.Cookie {
	req, _ := http.NewRequest(http.MethodGet, b.base, nil)
	for _, c := range b.jar.Cookies(req.URL) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s status = %d, want %d (body: %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func expectErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	expectStatus(t, resp, status)
	var body middleware.ErrorResponseBody
	decodeBody(t, resp, &body)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}
