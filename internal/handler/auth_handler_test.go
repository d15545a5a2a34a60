package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/quieted/internal/auth"
	"github.com/hitoshi/quieted/internal/middleware"
	"github.com/hitoshi/quieted/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.LoginResult, error)
	logoutFn         func(ctx context.Context, session *model.Session, all bool) error
	currentAccountFn func(ctx context.Context, accountID int64) (*model.Account, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, session *model.Session, all bool) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, session, all)
	}
	return nil
}

func (m *mockAuthService) CurrentAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	if m.currentAccountFn != nil {
		return m.currentAccountFn(ctx, accountID)
	}
	return nil, nil
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

var testAuthConfig = AuthHandlerConfig{SessionMaxAge: 86400}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func withSession(req *http.Request, session *model.Session) *http.Request {
	ctx := middleware.ContextWithSession(req.Context(), session)
	ctx = middleware.ContextWithAccountID(ctx, session.AccountID)
	return req.WithContext(ctx)
}

// --- テスト ---

func TestAuthHandler_LoginRedirect_RedirectsWithState(t *testing.T) {
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/v2/auth?state=" + state
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	w := httptest.NewRecorder()
	h.LoginRedirect(w, httptest.NewRequest(http.MethodGet, "/auth/login-redirect", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}

	stateCookie := findCookie(resp, "oauth_state")
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatal("expected oauth_state cookie to be set")
	}
	if !stateCookie.HttpOnly {
		t.Error("oauth_state cookie should be HttpOnly")
	}

	location := resp.Header.Get("Location")
	if !strings.HasSuffix(location, "state="+stateCookie.Value) {
		t.Errorf("Location = %q, should carry the cookie state", location)
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirectsHome(t *testing.T) {
	var gotCode string
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			gotCode = code
			return &auth.LoginResult{
				Account: &model.Account{ID: 1},
				Session: &model.Session{ID: "sess-1", AccountID: 1, ExpiresAt: time.Now().Add(24 * time.Hour)},
				Token:   "signed-token",
				Created: true,
			}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if location := resp.Header.Get("Location"); location != HomePath {
		t.Errorf("Location = %q, want %q", location, HomePath)
	}
	if gotCode != "test-code" {
		t.Errorf("code = %q, want test-code", gotCode)
	}

	sessionCookie := findCookie(resp, middleware.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if sessionCookie.Value != "signed-token" {
		t.Errorf("session cookie value = %q, want signed-token", sessionCookie.Value)
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if sessionCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want Lax", sessionCookie.SameSite)
	}
	if sessionCookie.MaxAge != 86400 {
		t.Errorf("session cookie MaxAge = %d, want 86400", sessionCookie.MaxAge)
	}
}

func TestAuthHandler_Callback_FailuresRedirectToLoginFailed(t *testing.T) {
	failing := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			return nil, auth.ErrAuthenticationFailed
		},
	}

	tests := []struct {
		name   string
		url    string
		cookie string
		svc    *mockAuthService
	}{
		{"state不一致", "/auth/callback?code=c&state=wrong", "right", &mockAuthService{}},
		{"stateCookieなし", "/auth/callback?code=c&state=s", "", &mockAuthService{}},
		{"プロバイダーエラー", "/auth/callback?error=access_denied&state=s", "s", &mockAuthService{}},
		{"サービスエラー", "/auth/callback?code=bad&state=s", "s", failing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(tt.svc, testAuthConfig)
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "oauth_state", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			h.Callback(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusFound {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
			}
			if location := resp.Header.Get("Location"); location != LoginFailedPath {
				t.Errorf("Location = %q, want %q", location, LoginFailedPath)
			}
			if c := findCookie(resp, middleware.SessionCookieName); c != nil {
				t.Error("session cookie must not be set on failure")
			}
		})
	}
}

func TestAuthHandler_Logout_Success(t *testing.T) {
	var gotSession *model.Session
	var gotAll bool
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, session *model.Session, all bool) error {
			gotSession, gotAll = session, all
			return nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	session := &model.Session{ID: "sess-1", AccountID: 1}
	req := withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), session)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["message"] != "Logged out successfully" {
		t.Errorf("message = %q", body["message"])
	}
	if gotSession != session || gotAll {
		t.Errorf("Logout called with (%v, %v), want (current session, false)", gotSession, gotAll)
	}

	sessionCookie := findCookie(resp, middleware.SessionCookieName)
	if sessionCookie == nil || sessionCookie.MaxAge != -1 {
		t.Error("session cookie should be cleared")
	}
}

func TestAuthHandler_Logout_AllSessions(t *testing.T) {
	var gotAll bool
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, session *model.Session, all bool) error {
			gotAll = all
			return nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := withSession(httptest.NewRequest(http.MethodPost, "/auth/logout?all=true", nil), &model.Session{ID: "s", AccountID: 1})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if !gotAll {
		t.Error("all=true should end every session of the account")
	}
}

func TestAuthHandler_Logout_ServiceError(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, session *model.Session, all bool) error {
			return errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), &model.Session{ID: "s", AccountID: 1})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	if c := findCookie(resp, middleware.SessionCookieName); c != nil {
		t.Error("session cookie should be kept when logout fails")
	}
}

func TestAuthHandler_Logout_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Me_Authenticated_ReturnsAccountWithoutTokens(t *testing.T) {
	accessToken := "secret-access-token"
	svc := &mockAuthService{
		currentAccountFn: func(ctx context.Context, accountID int64) (*model.Account, error) {
			return &model.Account{
				ID:          accountID,
				Email:       "me@example.com",
				Name:        "Me User",
				AccessToken: &accessToken,
			}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), &model.Session{ID: "s", AccountID: 7})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	raw := w.Body.String()
	if strings.Contains(raw, accessToken) {
		t.Error("response must not expose provider tokens")
	}

	var body accountResponse
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ID != 7 || body.Email != "me@example.com" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthHandler_Me_Anonymous_ReturnsUnauthenticated(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeUnauthenticated {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthenticated)
	}
}

func TestAuthHandler_Me_DeletedAccount_ReturnsUnauthenticated(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	req := withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), &model.Session{ID: "s", AccountID: 9})
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
