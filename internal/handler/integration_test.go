package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/quieted/internal/auth"
	"github.com/hitoshi/quieted/internal/memo"
	"github.com/hitoshi/quieted/internal/middleware"
	"github.com/hitoshi/quieted/internal/model"
	"github.com/hitoshi/quieted/internal/repository"
)

// --- 統合テスト用のインメモリストア ---

// memoryStore はアカウント・セッション・メモを保持するインメモリのリポジトリ実装。
type memoryStore struct {
	mu            sync.Mutex
	nextAccountID int64
	nextMemoID    int64
	accounts      map[int64]*model.Account
	sessions      map[string]*model.Session
	memos         map[string]*model.Memo // "accountID/date" -> memo
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[int64]*model.Account),
		sessions: make(map[string]*model.Session),
		memos:    make(map[string]*model.Memo),
	}
}

type memoryAccountRepo struct{ s *memoryStore }
type memorySessionRepo struct{ s *memoryStore }
type memoryMemoRepo struct{ s *memoryStore }

var (
	_ repository.AccountRepository = memoryAccountRepo{}
	_ repository.SessionRepository = memorySessionRepo{}
	_ repository.MemoRepository    = memoryMemoRepo{}
)

func copyAccount(a *model.Account) *model.Account {
	c := *a
	return &c
}

func (r memoryAccountRepo) FindByID(_ context.Context, id int64) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		return copyAccount(a), nil
	}
	return nil, nil
}

func (r memoryAccountRepo) FindByExternalID(_ context.Context, externalID string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.ExternalID == externalID {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r memoryAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.Email == email {
			return copyAccount(a), nil
		}
	}
	return nil, nil
}

func (r memoryAccountRepo) Create(_ context.Context, account *model.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.ExternalID == account.ExternalID || a.Email == account.Email {
			return repository.ErrDuplicate
		}
	}
	r.s.nextAccountID++
	now := time.Now()
	account.ID = r.s.nextAccountID
	account.CreatedAt = now
	account.LastSignIn = now
	r.s.accounts[account.ID] = copyAccount(account)
	return nil
}

func (r memoryAccountRepo) Update(_ context.Context, id int64, update model.AccountUpdate) (*model.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	if update.Name != nil {
		a.Name = *update.Name
	}
	if update.GivenName != nil {
		a.GivenName = update.GivenName
	}
	if update.Picture != nil {
		a.Picture = update.Picture
	}
	if update.SignedIn {
		a.LastSignIn = time.Now()
	}
	return copyAccount(a), nil
}

func (r memoryAccountRepo) TouchLastSignIn(_ context.Context, id int64) (time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return time.Time{}, sql.ErrNoRows
	}
	a.LastSignIn = time.Now()
	return a.LastSignIn, nil
}

func (r memorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *session
	r.s.sessions[session.ID] = &c
	return nil
}

func (r memorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if s, ok := r.s.sessions[id]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

func (r memorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

func (r memorySessionRepo) DeleteByAccountID(_ context.Context, accountID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, s := range r.s.sessions {
		if s.AccountID == accountID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

func (r memorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, s := range r.s.sessions {
		if s.IsExpired(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

func memoKey(accountID int64, date string) string {
	return fmt.Sprintf("%d/%s", accountID, date)
}

func (r memoryMemoRepo) ListByAccount(_ context.Context, accountID int64) ([]*model.Memo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	memos := []*model.Memo{}
	for _, m := range r.s.memos {
		if m.AccountID == accountID {
			c := *m
			memos = append(memos, &c)
		}
	}
	sort.Slice(memos, func(i, j int) bool { return memos[i].Date > memos[j].Date })
	return memos, nil
}

func (r memoryMemoRepo) FindByDate(_ context.Context, accountID int64, date string) (*model.Memo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.memos[memoKey(accountID, date)]; ok {
		c := *m
		return &c, nil
	}
	return nil, nil
}

func (r memoryMemoRepo) Upsert(_ context.Context, accountID int64, input model.MemoInput, now time.Time) (*model.Memo, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memoKey(accountID, input.Date)
	if m, ok := r.s.memos[key]; ok {
		m.Title, m.Link, m.Content, m.UpdatedAt = input.Title, input.Link, input.Content, now
		c := *m
		return &c, false, nil
	}
	r.s.nextMemoID++
	m := &model.Memo{
		ID:        r.s.nextMemoID,
		AccountID: accountID,
		Date:      input.Date,
		Title:     input.Title,
		Link:      input.Link,
		Content:   input.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.memos[key] = m
	c := *m
	return &c, true, nil
}

func (r memoryMemoRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for key, m := range r.s.memos {
		if m.ID == id {
			delete(r.s.memos, key)
		}
	}
	return nil
}

// fakeProvider は認可コードをそのままGoogleのsubとして扱うOAuthプロバイダー。
type fakeProvider struct{}

func (fakeProvider) GetLoginURL(state string) string {
	return "https://accounts.google.com/o/oauth2/v2/auth?state=" + url.QueryEscape(state)
}

func (fakeProvider) ExchangeCode(_ context.Context, code string) (*auth.OAuthProfile, error) {
	if code == "denied" {
		return nil, fmt.Errorf("invalid_grant")
	}
	return &auth.OAuthProfile{
		ExternalID: "google-" + code,
		Email:      code + "@example.com",
		Name:       strings.ToUpper(code[:1]) + code[1:] + " Example",
	}, nil
}

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationRouter(t *testing.T) (http.Handler, *memoryStore) {
	t.Helper()
	store := newMemoryStore()

	authService := auth.NewService(
		fakeProvider{},
		memoryAccountRepo{store},
		memorySessionRepo{store},
		auth.NewTokenSigner("integration-secret"),
		nil,
		auth.ServiceConfig{SessionMaxAge: 86400},
	)
	memoService := memo.NewService(memoryMemoRepo{store}, nil, time.UTC)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Authenticator:     authService,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       authService,
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 86400},
		MemoService:       memoService,
	})
	return router, store
}

// login はOAuthフローを通してセッションCookieを取得する。
func login(t *testing.T, router http.Handler, code string) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login-redirect", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("login-redirect status = %d, want 307", w.Code)
	}
	stateCookie := findCookie(w.Result(), "oauth_state")
	if stateCookie == nil {
		t.Fatal("oauth_state cookie not set")
	}

	req := httptest.NewRequest(http.MethodGet,
		"/auth/callback?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(stateCookie.Value), nil)
	req.AddCookie(stateCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound || w.Header().Get("Location") != HomePath {
		t.Fatalf("callback = %d %q, want 302 %q", w.Code, w.Header().Get("Location"), HomePath)
	}
	sessionCookie := findCookie(w.Result(), middleware.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("session cookie not set")
	}
	return sessionCookie
}

func doRequest(router http.Handler, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeMemo(t *testing.T, w *httptest.ResponseRecorder) memoResponse {
	t.Helper()
	var m memoResponse
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode memo: %v", err)
	}
	return m
}

// --- テスト ---

func TestIntegration_AuthFlow_LoginMeLogout(t *testing.T) {
	router, store := createIntegrationRouter(t)

	cookie := login(t, router, "alice")

	w := doRequest(router, http.MethodGet, "/auth/me", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /auth/me status = %d, want 200", w.Code)
	}
	var me accountResponse
	if err := json.NewDecoder(w.Body).Decode(&me); err != nil {
		t.Fatalf("failed to decode account: %v", err)
	}
	if me.Email != "alice@example.com" || me.Name != "Alice Example" {
		t.Errorf("me = %+v", me)
	}

	// 2回目のログインは同じアカウントを再利用する
	login(t, router, "alice")
	if len(store.accounts) != 1 {
		t.Errorf("accounts = %d, want 1", len(store.accounts))
	}

	w = doRequest(router, http.MethodPost, "/auth/logout", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /auth/logout status = %d, want 200", w.Code)
	}

	// ログアウト後のCookieは無効
	w = doRequest(router, http.MethodGet, "/memos", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /memos after logout status = %d, want 401", w.Code)
	}
	w = doRequest(router, http.MethodGet, "/auth/me", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /auth/me after logout status = %d, want 401", w.Code)
	}
}

func TestIntegration_FailedLoginCreatesNothing(t *testing.T) {
	router, store := createIntegrationRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login-redirect", nil))
	stateCookie := findCookie(w.Result(), "oauth_state")

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=denied&state="+url.QueryEscape(stateCookie.Value), nil)
	req.AddCookie(stateCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("Location") != LoginFailedPath {
		t.Errorf("Location = %q, want %q", w.Header().Get("Location"), LoginFailedPath)
	}
	if len(store.accounts) != 0 || len(store.sessions) != 0 {
		t.Errorf("accounts = %d, sessions = %d, want none", len(store.accounts), len(store.sessions))
	}
}

func TestIntegration_MemoCreateEditRead(t *testing.T) {
	router, _ := createIntegrationRouter(t)
	cookie := login(t, router, "alice")

	w := doRequest(router, http.MethodGet, "/memos", "", cookie)
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Fatalf("initial list = %q, want []", got)
	}

	w = doRequest(router, http.MethodPost, "/memos",
		`{"title":"  Morning  ","content":"Slept well","date":"2025-06-28"}`, cookie)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", w.Code, w.Body.String())
	}
	created := decodeMemo(t, w)
	if created.Title != "Morning" {
		t.Errorf("title = %q, want trimmed Morning", created.Title)
	}

	w = doRequest(router, http.MethodPost, "/memos",
		`{"title":"Morning (edited)","link":"https://example.com","content":"Slept well, then worked","date":"2025-06-28"}`, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200", w.Code)
	}
	updated := decodeMemo(t, w)
	if updated.ID != created.ID {
		t.Errorf("updated id = %d, want %d", updated.ID, created.ID)
	}

	doRequest(router, http.MethodPost, "/memos", `{"title":"Earlier","content":"c","date":"2025-06-20"}`, cookie)

	w = doRequest(router, http.MethodGet, "/memos/2025-06-28", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("GET memo status = %d, want 200", w.Code)
	}
	got := decodeMemo(t, w)
	if got.Title != "Morning (edited)" || got.Link == nil || *got.Link != "https://example.com" {
		t.Errorf("memo = %+v", got)
	}

	w = doRequest(router, http.MethodGet, "/memos", "", cookie)
	var list []memoResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(list) != 2 || list[0].Date != "2025-06-28" || list[1].Date != "2025-06-20" {
		t.Errorf("list = %+v, want two memos newest first", list)
	}

	w = doRequest(router, http.MethodGet, "/memos/2025-06-01", "", cookie)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing memo status = %d, want 404", w.Code)
	}
}

func TestIntegration_InvalidMemoLeavesStoreUnchanged(t *testing.T) {
	router, store := createIntegrationRouter(t)
	cookie := login(t, router, "alice")

	for _, body := range []string{
		`{"title":"","content":"c","date":"2025-06-28"}`,
		`{"title":"t","content":"   ","date":"2025-06-28"}`,
		`{"title":"t","content":"c","date":"2025-02-30"}`,
	} {
		w := doRequest(router, http.MethodPost, "/memos", body, cookie)
		if w.Code != http.StatusBadRequest {
			t.Errorf("POST %s status = %d, want 400", body, w.Code)
		}
	}
	if len(store.memos) != 0 {
		t.Errorf("memos = %d, want 0", len(store.memos))
	}
}

func TestIntegration_PlainTextLinkIsStoredAsIs(t *testing.T) {
	router, _ := createIntegrationRouter(t)
	cookie := login(t, router, "alice")

	w := doRequest(router, http.MethodPost, "/memos", `{"title":"t","link":" example.com/article ","content":"c","date":"2025-06-28"}`, cookie)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201: %s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/memos/2025-06-28", "", cookie)
	got := decodeMemo(t, w)
	if got.Link == nil || *got.Link != "example.com/article" {
		t.Errorf("link = %v, want example.com/article", got.Link)
	}
}

func TestIntegration_MemosAreIsolatedPerAccount(t *testing.T) {
	router, _ := createIntegrationRouter(t)
	alice := login(t, router, "alice")
	bob := login(t, router, "bob")

	doRequest(router, http.MethodPost, "/memos", `{"title":"Alice's day","content":"private","date":"2025-06-28"}`, alice)

	w := doRequest(router, http.MethodGet, "/memos/2025-06-28", "", bob)
	if w.Code != http.StatusNotFound {
		t.Errorf("bob reading alice's date status = %d, want 404", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/memos", `{"title":"Bob's day","content":"mine","date":"2025-06-28"}`, bob)
	if w.Code != http.StatusCreated {
		t.Errorf("bob creating same date status = %d, want 201", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/memos/2025-06-28", "", alice)
	if got := decodeMemo(t, w); got.Title != "Alice's day" {
		t.Errorf("alice's memo title = %q, want unchanged", got.Title)
	}
}

func TestIntegration_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router, _ := createIntegrationRouter(t)

	forged := &http.Cookie{Name: middleware.SessionCookieName, Value: "forged.token.value"}
	for _, cookie := range []*http.Cookie{nil, forged} {
		for _, tc := range []struct{ method, path, body string }{
			{http.MethodGet, "/memos", ""},
			{http.MethodGet, "/memos/2025-06-28", ""},
			{http.MethodPost, "/memos", `{"title":"t","content":"c","date":"2025-06-28"}`},
			{http.MethodPost, "/auth/logout", ""},
		} {
			w := doRequest(router, tc.method, tc.path, tc.body, cookie)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s %s (cookie=%v) status = %d, want 401", tc.method, tc.path, cookie != nil, w.Code)
			}
		}
	}
}
