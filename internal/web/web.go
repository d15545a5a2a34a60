// Package web はサーバーサイドレンダリングの画面を提供する。
//
// 画面はメモ一覧（未ログイン時はログイン案内）、作成・編集フォーム、閲覧、
// ログイン失敗、Not Foundの各ページで構成する。テンプレートと静的ファイルは
// バイナリに埋め込む。
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/quieted/internal/memo"
	"github.com/hitoshi/quieted/internal/middleware"
	"github.com/hitoshi/quieted/internal/model"
	"github.com/hitoshi/quieted/internal/security"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pages = []string{"landing.html", "form.html", "view.html", "message.html"}

// MemoService は画面が必要とするメモ操作。memo.Serviceが実装する。
type MemoService interface {
	Today() string
	List(ctx context.Context, accountID int64) ([]*model.Memo, error)
	Get(ctx context.Context, accountID int64, date string) (*model.Memo, error)
	Save(ctx context.Context, accountID int64, input model.MemoInput) (*model.Memo, bool, error)
}

// AccountService は画面が必要とするアカウント操作。auth.Serviceが実装する。
type AccountService interface {
	CurrentAccount(ctx context.Context, accountID int64) (*model.Account, error)
	Logout(ctx context.Context, session *model.Session, all bool) error
}

// Config は画面ハンドラーの設定。
type Config struct {
	CookieDomain string
	CookieSecure bool
}

// Handler は画面のHTTPハンドラー。
type Handler struct {
	memos         MemoService
	accounts      AccountService
	authenticator middleware.SessionAuthenticator
	renderer      *security.MemoRenderer
	config        Config
	templates     map[string]*template.Template
	now           func() time.Time
}

// NewHandler はテンプレートを読み込み、画面のルーティングを構成したhttp.Handlerを返す。
func NewHandler(
	memos MemoService,
	accounts AccountService,
	authenticator middleware.SessionAuthenticator,
	renderer *security.MemoRenderer,
	config Config,
) (http.Handler, error) {
	h, err := newHandler(memos, accounts, authenticator, renderer, config)
	if err != nil {
		return nil, err
	}
	return h.routes(), nil
}

func newHandler(
	memos MemoService,
	accounts AccountService,
	authenticator middleware.SessionAuthenticator,
	renderer *security.MemoRenderer,
	config Config,
) (*Handler, error) {
	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		templates[page] = tmpl
	}
	if renderer == nil {
		renderer = security.NewMemoRenderer()
	}

	return &Handler{
		memos:         memos,
		accounts:      accounts,
		authenticator: authenticator,
		renderer:      renderer,
		config:        config,
		templates:     templates,
		now:           time.Now,
	}, nil
}

func (h *Handler) routes() http.Handler {
	r := chi.NewRouter()

	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddlewareWithErrorHandler(h.authenticator, h.sessionError))
		r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
			CookieSecure: h.config.CookieSecure,
			CookieDomain: h.config.CookieDomain,
		}))

		r.Get("/", h.Landing)
		r.Get("/login-failed", h.LoginFailed)
		r.Post("/logout", h.Logout)

		r.Get("/memo/create", h.CreateForm)
		r.Get("/memo/edit", h.redirectToToday("/memo/edit/"))
		r.Get("/memo/edit/{date}", h.EditForm)
		r.Post("/memo/edit/{date}", h.Save)
		r.Get("/memo/view", h.redirectToToday("/memo/view/"))
		r.Get("/memo/view/{date}", h.View)

		r.NotFound(h.NotFound)
	})

	return r
}

// pageData はテンプレートに渡すデータ。
type pageData struct {
	PageTitle string
	SignedIn  bool
	CSRFToken string

	// 一覧
	Account      *model.Account
	Greeting     string
	LastSignIn   string
	TodayDisplay string
	TodayMemo    *memoView
	Previous     []memoView

	// フォーム
	Date        string
	DateDisplay string
	Form        memoForm
	Errors      map[string]string

	// 閲覧
	Memo *memoView

	// メッセージ
	Heading string
	Body    string
}

type memoView struct {
	Date        string
	DisplayDate string
	Title       string
	Link        template.HTML
	Content     template.HTML
}

type memoForm struct {
	Title   string
	Link    string
	Content string
}

func (h *Handler) toMemoView(m *model.Memo) memoView {
	v := memoView{
		Date:        m.Date,
		DisplayDate: DisplayDate(m.Date),
		Title:       m.Title,
		Content:     h.renderer.RenderContent(m.Content),
	}
	if m.Link != nil {
		v.Link = h.renderer.RenderLink(*m.Link)
	}
	return v
}

// Landing は未ログイン時にログイン案内を、ログイン時に今日のメモと過去のメモ一覧を表示する。
// GET /
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	data := h.basePage(r, "Home")

	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		h.render(w, r, http.StatusOK, "landing.html", data)
		return
	}

	account, err := h.accounts.CurrentAccount(r.Context(), accountID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if account == nil {
		data.SignedIn = false
		h.render(w, r, http.StatusOK, "landing.html", data)
		return
	}

	memos, err := h.memos.List(r.Context(), accountID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	today := h.memos.Today()
	data.Account = account
	data.Greeting = greeting(account)
	data.LastSignIn = RelativeTime(account.LastSignIn, h.now())
	data.TodayDisplay = DisplayDate(today)
	data.Previous = make([]memoView, 0, len(memos))
	for _, m := range memos {
		if m.Date == today {
			v := h.toMemoView(m)
			data.TodayMemo = &v
			continue
		}
		data.Previous = append(data.Previous, h.toMemoView(m))
	}

	h.render(w, r, http.StatusOK, "landing.html", data)
}

// CreateForm は今日のメモの作成フォームを表示する。
// GET /memo/create
func (h *Handler) CreateForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAccount(w, r); !ok {
		return
	}
	h.renderForm(w, r, http.StatusOK, h.memos.Today(), memoForm{}, nil)
}

// EditForm は指定日のメモの編集フォームを表示する。メモがなければ空のフォームを表示する。
// GET /memo/edit/{date}
func (h *Handler) EditForm(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	date := chi.URLParam(r, "date")
	if !memo.IsValidDate(date) {
		h.NotFound(w, r)
		return
	}

	m, err := h.memos.Get(r.Context(), accountID, date)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	form := memoForm{}
	if m != nil {
		form.Title = m.Title
		form.Content = m.Content
		if m.Link != nil {
			form.Link = *m.Link
		}
	}
	h.renderForm(w, r, http.StatusOK, date, form, nil)
}

// Save はフォームの内容で指定日のメモを作成または上書きし、一覧へ戻る。
// 入力が不正な場合はエラーとともにフォームを再表示し、メモは変更しない。
// POST /memo/edit/{date}
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	date := chi.URLParam(r, "date")
	form := memoForm{
		Title:   r.PostFormValue("title"),
		Link:    r.PostFormValue("link"),
		Content: r.PostFormValue("content"),
	}

	_, _, err := h.memos.Save(r.Context(), accountID, model.MemoInput{
		Date:    date,
		Title:   form.Title,
		Link:    &form.Link,
		Content: form.Content,
	})
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			if _, bad := verr.Fields["date"]; bad {
				h.NotFound(w, r)
				return
			}
			h.renderForm(w, r, http.StatusBadRequest, date, form, verr.Fields)
			return
		}
		h.serverError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// View は指定日のメモを読み取り専用で表示する。
// GET /memo/view/{date}
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	date := chi.URLParam(r, "date")
	m, err := h.memos.Get(r.Context(), accountID, date)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if m == nil {
		h.renderMessage(w, r, http.StatusNotFound, "Memo not found", "There is no entry for "+DisplayDate(date)+".")
		return
	}

	data := h.basePage(r, m.Title)
	v := h.toMemoView(m)
	data.Memo = &v
	h.render(w, r, http.StatusOK, "view.html", data)
}

// Logout はセッションを破棄して一覧へ戻る。
// POST /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := middleware.SessionFromContext(r.Context()); session != nil {
		if err := h.accounts.Logout(r.Context(), session, false); err != nil {
			h.serverError(w, r, err)
			return
		}
	}
	middleware.ClearSessionCookie(w, h.config.CookieDomain, h.config.CookieSecure)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LoginFailed はログイン失敗ページを表示する。
// GET /login-failed
func (h *Handler) LoginFailed(w http.ResponseWriter, r *http.Request) {
	h.renderMessage(w, r, http.StatusOK, "Login Failed", "Authentication failed. Please try again.")
}

// NotFound は未定義のパスに対するページを表示する。
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderMessage(w, r, http.StatusNotFound, "Page not found", "The page you are looking for does not exist.")
}

func (h *Handler) redirectToToday(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix+h.memos.Today(), http.StatusFound)
	}
}

// requireAccount は未ログインの場合にトップページへリダイレクトする。
func (h *Handler) requireAccount(w http.ResponseWriter, r *http.Request) (int64, bool) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return 0, false
	}
	return accountID, true
}

func (h *Handler) basePage(r *http.Request, title string) pageData {
	data := pageData{
		PageTitle: title,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	}
	data.SignedIn = middleware.SessionFromContext(r.Context()) != nil
	return data
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, date string, form memoForm, errs map[string]string) {
	data := h.basePage(r, "Entry for "+DisplayDate(date))
	data.Date = date
	data.DateDisplay = DisplayDate(date)
	data.Form = form
	data.Errors = errs
	h.render(w, r, status, "form.html", data)
}

func (h *Handler) renderMessage(w http.ResponseWriter, r *http.Request, status int, heading, body string) {
	data := h.basePage(r, heading)
	data.Heading = heading
	data.Body = body
	h.render(w, r, status, "message.html", data)
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, _ error) {
	h.renderMessage(w, r, http.StatusInternalServerError, "Something went wrong", "Please wait a moment and try again.")
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("page rendering failed",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	h.renderMessage(w, r, http.StatusInternalServerError, "Something went wrong", "Please wait a moment and try again.")
}

// render はテンプレートをバッファに描画してから書き込む。
// 描画途中で失敗した場合に不完全なHTMLを返さないようにする。
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	var buf bytes.Buffer
	if err := h.templates[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("template execution failed",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
