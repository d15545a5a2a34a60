package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/quieted/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

const accountColumns = `id, external_id, email, name, given_name, picture,
	access_token, refresh_token, created_at, last_sign_in`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// FindByExternalID はIdPのユーザーIDでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE external_id = $1`,
		externalID,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by external ID: %w", err)
	}
	return account, nil
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		email,
	)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return account, nil
}

// Create はアカウントを作成する。
// id、created_at、last_sign_inはDB側で採番・設定され、accountに書き戻される。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (external_id, email, name, given_name, picture, access_token, refresh_token)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, last_sign_in`,
		account.ExternalID, account.Email, account.Name,
		account.GivenName, account.Picture, account.AccessToken, account.RefreshToken,
	).Scan(&account.ID, &account.CreatedAt, &account.LastSignIn)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert account: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Update は指定フィールドのみを更新する。nilのフィールドは既存の値を維持する。
// 存在しない場合はnilを返す。
func (r *PostgresAccountRepo) Update(ctx context.Context, id int64, update model.AccountUpdate) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET
			email = COALESCE($2, email),
			name = COALESCE($3, name),
			given_name = COALESCE($4, given_name),
			picture = COALESCE($5, picture),
			access_token = COALESCE($6, access_token),
			refresh_token = COALESCE($7, refresh_token),
			last_sign_in = CASE WHEN $8 THEN now() ELSE last_sign_in END
		 WHERE id = $1
		 RETURNING `+accountColumns,
		id, update.Email, update.Name, update.GivenName, update.Picture,
		update.AccessToken, update.RefreshToken, update.SignedIn,
	)
	account, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to update account: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// scanAccount は1行をAccountに変換する。行が存在しない場合はnil, nilを返す。
// TouchLastSignIn は最終ログイン日時だけをDBの現在時刻に更新し、その値を返す。
func (r *PostgresAccountRepo) TouchLastSignIn(ctx context.Context, id int64) (time.Time, error) {
	var lastSignIn time.Time
	err := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET last_sign_in = now() WHERE id = $1 RETURNING last_sign_in`,
		id,
	).Scan(&lastSignIn)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update last sign-in: %w", err)
	}
	return lastSignIn, nil
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	account := &model.Account{}
	var givenName, picture, accessToken, refreshToken sql.NullString

	err := row.Scan(
		&account.ID, &account.ExternalID, &account.Email, &account.Name,
		&givenName, &picture, &accessToken, &refreshToken,
		&account.CreatedAt, &account.LastSignIn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	account.GivenName = nullStringPtr(givenName)
	account.Picture = nullStringPtr(picture)
	account.AccessToken = nullStringPtr(accessToken)
	account.RefreshToken = nullStringPtr(refreshToken)
	return account, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
