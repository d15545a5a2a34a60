// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/quieted/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// accountsのexternal_id/emailが既に存在する場合に返す。
var ErrDuplicate = errors.New("duplicate key")

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Account, error)

	// FindByExternalID はIdPのユーザーIDでアカウントを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.Account, error)

	// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// Create はアカウントを作成し、採番されたIDとタイムスタンプをaccountに設定する。
	// external_idまたはemailが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, account *model.Account) error

	// Update は指定フィールドのみを更新し、更新後のアカウントを返す。
	// 存在しない場合はnilを返す。
	// ログイン時はSignedInを立て、プロフィールと最終ログイン日時を1文で更新する。
	Update(ctx context.Context, id int64, update model.AccountUpdate) (*model.Account, error)

	// TouchLastSignIn は最終ログイン日時だけをDBの現在時刻に更新し、その値を返す。
	// 存在しない場合はsql.ErrNoRowsをラップしたエラーを返す。
	TouchLastSignIn(ctx context.Context, id int64) (time.Time, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。
	// 期限切れの場合は行を削除したうえでnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByAccountID は指定アカウントの全セッションを削除する。
	DeleteByAccountID(ctx context.Context, accountID int64) error
	// DeleteExpired は期限切れのセッションを一括削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemoRepository はメモデータの永続化インターフェース。
type MemoRepository interface {
	// ListByAccount はアカウントの全メモを日付の降順で返す。
	ListByAccount(ctx context.Context, accountID int64) ([]*model.Memo, error)

	// FindByDate はアカウントと日付でメモを検索する。見つからない場合はnilを返す。
	FindByDate(ctx context.Context, accountID int64, date string) (*model.Memo, error)

	// Upsert は (account_id, date) をキーにメモを作成または上書き更新する。
	// UNIQUE(account_id, date)制約を利用したINSERT ON CONFLICTで1文で実行する。
	// created は新規作成の場合にtrueとなる。
	Upsert(ctx context.Context, accountID int64, input model.MemoInput, now time.Time) (memo *model.Memo, created bool, err error)

	// Delete は指定IDのメモを削除する。
	Delete(ctx context.Context, id int64) error
}
