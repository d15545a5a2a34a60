// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, memo, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeMemoNotFound     = "MEMO_NOT_FOUND"
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnsupportedMedia = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeNotFound         = "NOT_FOUND"
)

// NewUnauthorizedError は保護されたルートへの未認証アクセスのエラーを生成する。
// 理由（Cookieなし・期限切れ・署名不正）は区別しない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "Sign in with Google and try again.",
	}
}

// NewUnauthenticatedError は /auth/me で未ログインであることを示すエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "Sign in with Google.",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Request body could not be parsed.",
		Category: "validation",
		Action:   "Send a JSON object with title, content, date and an optional link.",
	}
}

// NewUnsupportedMediaTypeError はJSON以外のリクエストボディに対するエラーを生成する。
func NewUnsupportedMediaTypeError() *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedMedia,
		Message:  "Content-Type must be application/json.",
		Category: "validation",
		Action:   "Send the request body as JSON.",
	}
}

// ValidationError はフィールド単位の入力検証エラーを保持する。
type ValidationError struct {
	Fields map[string]string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range []string{"date", "title", "link", "content"} {
		if msg, ok := e.Fields[name]; ok {
			parts = append(parts, name+": "+msg)
		}
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Add はフィールドのエラーを追加する。同じフィールドは最初のメッセージを保持する。
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

// HasErrors はエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// NewValidationError は入力検証エラーのAPIErrorを生成する。
// APIの応答ではフィールドの詳細を返さず汎用メッセージとする。
func NewValidationError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "Title, content and a valid date are required.",
		Category: "validation",
		Action:   "Fill in the title and content, then save again.",
	}
}

// NewMemoNotFoundError は指定日のメモが存在しない場合のエラーを生成する。
func NewMemoNotFoundError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeMemoNotFound,
		Message:  fmt.Sprintf("No memo found for %s.", date),
		Category: "memo",
		Action:   "Create an entry for this date first.",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "Account not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewRouteNotFoundError は未定義ルートへのアクセスのエラーを生成する。
func NewRouteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "Not found.",
		Category: "system",
		Action:   "Check the URL.",
	}
}
