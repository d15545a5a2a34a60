package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/quieted/internal/model"
)

const memoColumns = `id, account_id, date, title, link, content, created_at, updated_at`

// PostgresMemoRepo はPostgreSQLを使用したメモリポジトリ。
type PostgresMemoRepo struct {
	db *sql.DB
}

// NewPostgresMemoRepo はPostgresMemoRepoを生成する。
func NewPostgresMemoRepo(db *sql.DB) *PostgresMemoRepo {
	return &PostgresMemoRepo{db: db}
}

// ListByAccount はアカウントの全メモを日付の降順で返す。ページネーションは行わない。
func (r *PostgresMemoRepo) ListByAccount(ctx context.Context, accountID int64) ([]*model.Memo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memoColumns+`
		 FROM memos
		 WHERE account_id = $1
		 ORDER BY date DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memos: %w", err)
	}
	defer rows.Close()

	memos := make([]*model.Memo, 0)
	for rows.Next() {
		memo, _, err := scanMemo(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memo: %w", err)
		}
		memos = append(memos, memo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memos: %w", err)
	}

	return memos, nil
}

// FindByDate はアカウントと日付でメモを検索する。見つからない場合はnilを返す。
func (r *PostgresMemoRepo) FindByDate(ctx context.Context, accountID int64, date string) (*model.Memo, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memoColumns+`
		 FROM memos
		 WHERE account_id = $1 AND date = $2`,
		accountID, date,
	)
	memo, _, err := scanMemo(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find memo by date: %w", err)
	}
	return memo, nil
}

// Upsert は (account_id, date) をキーにメモを作成または上書き更新する。
// 既存行がある場合はtitle、link、content、updated_atのみを置き換え、idとcreated_atは維持する。
// xmax = 0 の判定で新規挿入か更新かを区別する。
func (r *PostgresMemoRepo) Upsert(ctx context.Context, accountID int64, input model.MemoInput, now time.Time) (*model.Memo, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO memos (account_id, date, title, link, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (account_id, date) DO UPDATE SET
			title = EXCLUDED.title,
			link = EXCLUDED.link,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+memoColumns+`, (xmax = 0) AS inserted`,
		accountID, input.Date, input.Title, input.Link, input.Content, now,
	)
	memo, created, err := scanMemo(row, true)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert memo: %w", err)
	}
	return memo, created, nil
}

// Delete は指定IDのメモを削除する。
func (r *PostgresMemoRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM memos WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete memo: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemo は1行をMemoに変換する。withInsertedがtrueの場合は末尾のinserted列も読む。
func scanMemo(s rowScanner, withInserted bool) (*model.Memo, bool, error) {
	memo := &model.Memo{}
	var link sql.NullString
	var inserted bool

	dest := []any{
		&memo.ID, &memo.AccountID, &memo.Date, &memo.Title, &link,
		&memo.Content, &memo.CreatedAt, &memo.UpdatedAt,
	}
	if withInserted {
		dest = append(dest, &inserted)
	}

	if err := s.Scan(dest...); err != nil {
		return nil, false, err
	}

	memo.Link = nullStringPtr(link)
	return memo, inserted, nil
}

// compile-time interface check
var _ MemoRepository = (*PostgresMemoRepo)(nil)
