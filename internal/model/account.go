// Package model はドメインモデルを定義する。
package model

import "time"

// Account はGoogleアカウントと紐付いたサービス利用者を表す。
// ExternalIDはIdP側の不変ID（Googleのsub）で、IDは内部採番のサロゲートキー。
type Account struct {
	ID           int64
	ExternalID   string
	Email        string
	Name         string
	GivenName    *string
	Picture      *string
	AccessToken  *string
	RefreshToken *string
	CreatedAt    time.Time
	LastSignIn   time.Time
}

// AccountUpdate はAccountの部分更新内容を表す。
// nilのフィールドは変更しない。
// SignedInがtrueの場合は同じ更新で最終ログイン日時をDBの現在時刻に進める。
type AccountUpdate struct {
	Email        *string
	Name         *string
	GivenName    *string
	Picture      *string
	AccessToken  *string
	RefreshToken *string
	SignedIn     bool
}

// Session はサーバー側で保持するログインセッションを表す。
type Session struct {
	ID        string
	AccountID int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired は指定時刻時点でセッションが期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
