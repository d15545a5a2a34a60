// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/quieted/internal/auth"
	"github.com/hitoshi/quieted/internal/middleware"
	"github.com/hitoshi/quieted/internal/model"
)

const (
	oauthStateCookie = "oauth_state"

	// LoginFailedPath はログイン失敗時のリダイレクト先。
	LoginFailedPath = "/login-failed"
	// HomePath はログイン成功時のリダイレクト先（メモ一覧）。
	HomePath = "/"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error)
	Logout(ctx context.Context, session *model.Session, all bool) error
	CurrentAccount(ctx context.Context, accountID int64) (*model.Account, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// accountResponse は /auth/me のレスポンス。プロバイダーのトークンは含めない。
type accountResponse struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	GivenName  *string   `json:"given_name"`
	Picture    *string   `json:"picture"`
	CreatedAt  time.Time `json:"created_at"`
	LastSignIn time.Time `json:"last_sign_in"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		Email:      a.Email,
		Name:       a.Name,
		GivenName:  a.GivenName,
		Picture:    a.Picture,
		CreatedAt:  a.CreatedAt,
		LastSignIn: a.LastSignIn,
	}
}

// LoginRedirect はGoogle OAuthフローを開始する。
// GET /auth/login-redirect
func (h *AuthHandler) LoginRedirect(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// 成功時はセッションCookieを設定してメモ一覧へ、失敗時は /login-failed へリダイレクトする。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// stateの検証（CSRF対策）
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		http.Redirect(w, r, LoginFailedPath, http.StatusFound)
		return
	}

	// ユーザーが同意を拒否した場合など
	if providerErr := query.Get("error"); providerErr != "" {
		slog.Warn("oauth provider returned error", slog.String("error", providerErr))
		http.Redirect(w, r, LoginFailedPath, http.StatusFound)
		return
	}

	result, err := h.service.HandleCallback(r.Context(), query.Get("code"))
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		http.Redirect(w, r, LoginFailedPath, http.StatusFound)
		return
	}

	// セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, HomePath, http.StatusFound)
}

// Logout はセッションを破棄する。?all=true の場合はアカウントの全セッションを破棄する。
// セッションミドルウェアの後に配置する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	all := r.URL.Query().Get("all") == "true"
	if err := h.service.Logout(r.Context(), session, all); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Logout failed"})
		return
	}

	middleware.ClearSessionCookie(w, h.config.CookieDomain, h.config.CookieSecure)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Me は現在のログインアカウント情報を返す。未ログインの場合は401 UNAUTHENTICATED。
// 任意セッションミドルウェアの後に配置する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	account, err := h.service.CurrentAccount(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if account == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
