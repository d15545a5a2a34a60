package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/quieted/internal/database"
	"github.com/hitoshi/quieted/internal/metrics"
	"github.com/hitoshi/quieted/internal/middleware"
	"github.com/hitoshi/quieted/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Authenticator     middleware.SessionAuthenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  database.Pinger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// メモ
	MemoService MemoServiceInterface

	// 画面。API以外のパスはすべてここに委譲する
	Web http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → Metrics → (API) CORS → Session → RateLimit
//
// 認証ルート（/auth/login-redirect, /auth/callback, /auth/me）はセッション必須のチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Noop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(metrics.Middleware(collector))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	memoHandler := NewMemoHandler(deps.MemoService)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

		// 認証ルート（OAuthフロー）
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login-redirect", authHandler.LoginRedirect)
			r.Get("/callback", authHandler.Callback)
			r.With(middleware.NewOptionalSessionMiddleware(deps.Authenticator)).Get("/me", authHandler.Me)
			r.With(middleware.NewSessionMiddleware(deps.Authenticator)).Post("/logout", authHandler.Logout)
		})

		// 認証が必要なルート
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Route("/memos", func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Authenticator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/", memoHandler.ListMemos)
			r.Get("/{date}", memoHandler.GetMemo)
			// POST /memos - メモ保存（保存専用レート制限を追加）
			r.With(deps.RateLimiter.MemoWriteMiddleware()).Post("/", memoHandler.SaveMemo)
		})
	})

	// --- 画面 ---
	if deps.Web != nil {
		r.Mount("/", deps.Web)
	} else {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewRouteNotFoundError())
		})
	}

	return r
}
