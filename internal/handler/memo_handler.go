package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/quieted/internal/middleware"
	"github.com/hitoshi/quieted/internal/model"
)

// maxMemoBodyBytes はPOST /memos のリクエストボディ上限。
const maxMemoBodyBytes = 64 << 10

// MemoServiceInterface はメモハンドラーが必要とするサービスインターフェース。
type MemoServiceInterface interface {
	List(ctx context.Context, accountID int64) ([]*model.Memo, error)
	Get(ctx context.Context, accountID int64, date string) (*model.Memo, error)
	Save(ctx context.Context, accountID int64, input model.MemoInput) (*model.Memo, bool, error)
}

// MemoHandler はメモAPIのHTTPハンドラー。
type MemoHandler struct {
	service MemoServiceInterface
}

// NewMemoHandler はMemoHandlerを生成する。
func NewMemoHandler(service MemoServiceInterface) *MemoHandler {
	return &MemoHandler{service: service}
}

// memoResponse はメモのJSON表現。
type memoResponse struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	Link      *string   `json:"link"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMemoResponse(m *model.Memo) memoResponse {
	return memoResponse{
		ID:        m.ID,
		AccountID: m.AccountID,
		Date:      m.Date,
		Title:     m.Title,
		Link:      m.Link,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// saveMemoRequest はPOST /memos のリクエストボディ。
// title, content, date は必須、link は任意（省略・null・空文字はリンクなし）。
type saveMemoRequest struct {
	Title   *string `json:"title"`
	Link    *string `json:"link"`
	Content *string `json:"content"`
	Date    *string `json:"date"`
}

func (req saveMemoRequest) toInput() model.MemoInput {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return model.MemoInput{
		Date:    deref(req.Date),
		Title:   deref(req.Title),
		Link:    req.Link,
		Content: deref(req.Content),
	}
}

// ListMemos はログイン中アカウントの全メモを日付の降順で返す。
// GET /memos
func (h *MemoHandler) ListMemos(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	memos, err := h.service.List(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]memoResponse, 0, len(memos))
	for _, m := range memos {
		resp = append(resp, toMemoResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMemo は指定日のメモを返す。存在しない場合は404 MEMO_NOT_FOUND。
// GET /memos/{date}
func (h *MemoHandler) GetMemo(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	date := chi.URLParam(r, "date")
	memo, err := h.service.Get(r.Context(), accountID, date)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if memo == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewMemoNotFoundError(date))
		return
	}

	writeJSON(w, http.StatusOK, toMemoResponse(memo))
}

// SaveMemo は (アカウント, 日付) のメモを作成または上書きする。
// 新規作成は201、更新は200を返す。
// POST /memos
func (h *MemoHandler) SaveMemo(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	if !isJSONContentType(r.Header.Get("Content-Type")) {
		writeAPIErrorResponse(w, http.StatusUnsupportedMediaType, model.NewUnsupportedMediaTypeError())
		return
	}

	var req saveMemoRequest
	if err := decodeStrictJSON(w, r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	memo, created, err := h.service.Save(r.Context(), accountID, req.toInput())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toMemoResponse(memo))
}

// decodeStrictJSON は未知のフィールドや後続データを含むボディを拒否してデコードする。
func decodeStrictJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMemoBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// requireAccountID はコンテキストからアカウントIDを取り出す。
// セッションミドルウェアの外で呼ばれた場合は401を書き込みfalseを返す。
func requireAccountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return 0, false
	}
	return accountID, true
}
