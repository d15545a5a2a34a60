// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/quieted/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "quieted_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	accountIDContextKey = contextKey("account_id")
	sessionContextKey   = contextKey("session")
)

// SessionAuthenticator はCookieのトークンからセッションを解決するインターフェース。
// auth.Serviceが実装する。無効なトークンは(nil, nil)を返す。
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みアカウントIDとセッションをリクエストコンテキストに注入する。
// 未認証リクエストには理由を区別せず401 UNAUTHORIZEDを返す。
// セッションストアの障害は未認証とは扱わず500を返す。
func NewSessionMiddleware(authenticator SessionAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := ResolveSession(r, authenticator)
			if err != nil {
				logSessionError(r, err)
				WriteInternalServerError(w)
				return
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// NewOptionalSessionMiddleware はセッションがあればコンテキストに注入し、
// なければそのまま次のハンドラーに渡すミドルウェアを返す。
// /auth/me で使う。ストア障害時はJSONの500を返す。
func NewOptionalSessionMiddleware(authenticator SessionAuthenticator) func(next http.Handler) http.Handler {
	return NewOptionalSessionMiddlewareWithErrorHandler(authenticator, func(w http.ResponseWriter, _ *http.Request, _ error) {
		WriteInternalServerError(w)
	})
}

// NewOptionalSessionMiddlewareWithErrorHandler はストア障害時の応答を差し替えられる
// NewOptionalSessionMiddleware。画面側はHTMLのエラーページを返すために使う。
func NewOptionalSessionMiddlewareWithErrorHandler(
	authenticator SessionAuthenticator,
	onError func(w http.ResponseWriter, r *http.Request, err error),
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := ResolveSession(r, authenticator)
			if err != nil {
				logSessionError(r, err)
				onError(w, r, err)
				return
			}
			if session != nil {
				r = r.WithContext(ContextWithSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveSession はCookieのトークンからセッションを解決する。
// Cookieがない、またはトークンが無効な場合は(nil, nil)を返す。
func ResolveSession(r *http.Request, authenticator SessionAuthenticator) (*model.Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	session, err := authenticator.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("セッションの検証に失敗: %w", err)
	}
	return session, nil
}

func logSessionError(r *http.Request, err error) {
	slog.Error("failed to authenticate session",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
		slog.String("request_id", RequestIDFromContext(r.Context())),
	)
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (int64, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(int64)
	if !ok || accountID == 0 {
		return 0, fmt.Errorf("account ID not found in context")
	}
	return accountID, nil
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。未認証の場合はnil。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// ContextWithAccountID はコンテキストにアカウントIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAccountID(ctx context.Context, accountID int64) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.accountID = accountID
	}
	return context.WithValue(ctx, accountIDContextKey, accountID)
}

// ContextWithSession はセッションとそのアカウントIDをコンテキストに注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	return ContextWithAccountID(ctx, session.AccountID)
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, domain string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
