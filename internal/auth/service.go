// Package auth はGoogle OAuthによるログインフローとセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/quieted/internal/metrics"
	"github.com/hitoshi/quieted/internal/model"
	"github.com/hitoshi/quieted/internal/repository"
)

var (
	// ErrAuthenticationFailed はIdPとのやり取りやアカウント解決に失敗したことを表す。
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInvalidProfile はIdPのプロフィールに必須項目（sub, email）が欠けていることを表す。
	ErrInvalidProfile = errors.New("profile is missing required fields")
)

// OAuthProfile はOAuthプロバイダーから取得したプロフィールを表す。
// 空文字は「プロバイダーが値を返さなかった」ことを意味する。
type OAuthProfile struct {
	ExternalID   string
	Email        string
	Name         string
	GivenName    string
	Picture      string
	AccessToken  string
	RefreshToken string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthProfile, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// LoginResult はログイン成功時に発行されたセッションとCookie値。
type LoginResult struct {
	Account *model.Account
	Session *model.Session
	Token   string
	Created bool // 初回ログインでアカウントを作成した場合true
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	accountRepo repository.AccountRepository
	sessionRepo repository.SessionRepository
	signer      *TokenSigner
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	accountRepo repository.AccountRepository,
	sessionRepo repository.SessionRepository,
	signer *TokenSigner,
	m metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{
		oauth:       oauth,
		accountRepo: accountRepo,
		sessionRepo: sessionRepo,
		signer:      signer,
		metrics:     m,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、アカウントを解決してセッションを発行する。
// 失敗時はErrAuthenticationFailedまたはErrInvalidProfileをラップしたエラーを返し、
// アカウントは変更しない。
func (s *Service) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	result, err := s.handleCallback(ctx, code)
	s.metrics.RecordLogin(err == nil)
	return result, err
}

func (s *Service) handleCallback(ctx context.Context, code string) (*LoginResult, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrAuthenticationFailed)
	}

	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	account, created, err := s.ResolveAccount(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	session, token, err := s.createSession(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	return &LoginResult{Account: account, Session: session, Token: token, Created: created}, nil
}

// ResolveAccount はプロフィールをアカウントに対応付ける。
// 既存アカウントは表示名・名・アバター・トークンを更新し、最終ログイン日時を進める。
// プロバイダーが返さなかった項目は保存済みの値を維持する。
// 未登録の場合は新規作成する。
func (s *Service) ResolveAccount(ctx context.Context, profile *OAuthProfile) (*model.Account, bool, error) {
	existing, err := s.accountRepo.FindByExternalID(ctx, profile.ExternalID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find account: %w", err)
	}

	if existing != nil {
		updated, err := s.accountRepo.Update(ctx, existing.ID, model.AccountUpdate{
			Name:         optional(profile.Name),
			GivenName:    optional(profile.GivenName),
			Picture:      optional(profile.Picture),
			AccessToken:  optional(profile.AccessToken),
			RefreshToken: optional(profile.RefreshToken),
			SignedIn:     true,
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to update account: %w", err)
		}
		if updated == nil {
			return nil, false, fmt.Errorf("account %d disappeared during sign-in", existing.ID)
		}

		slog.Info("existing account signed in",
			slog.Int64("account_id", updated.ID),
		)
		return updated, false, nil
	}

	account := &model.Account{
		ExternalID:   profile.ExternalID,
		Email:        profile.Email,
		Name:         displayName(profile),
		GivenName:    optional(profile.GivenName),
		Picture:      optional(profile.Picture),
		AccessToken:  optional(profile.AccessToken),
		RefreshToken: optional(profile.RefreshToken),
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("new account created",
		slog.Int64("account_id", account.ID),
	)
	return account, true, nil
}

// Authenticate はCookieのトークンを検証し、有効なセッションを返す。
// トークン不正・セッション不在・期限切れ・アカウント不一致はすべてnilを返す。
// エラーはストアの障害の場合のみ返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}

	sessionID, accountID, err := s.signer.Verify(token)
	if err != nil {
		slog.Debug("session token rejected", slog.String("error", err.Error()))
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.AccountID != accountID {
		return nil, nil
	}
	if session.IsExpired(s.now()) {
		return nil, nil
	}

	return session, nil
}

// Logout はセッションを破棄する。allがtrueの場合はアカウントの全セッションを破棄する。
// アカウント自体は変更しない。
func (s *Service) Logout(ctx context.Context, session *model.Session, all bool) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}

	if all {
		if err := s.sessionRepo.DeleteByAccountID(ctx, session.AccountID); err != nil {
			return fmt.Errorf("failed to delete account sessions: %w", err)
		}
	} else {
		if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	slog.Info("account logged out",
		slog.Int64("account_id", session.AccountID),
		slog.Bool("all_sessions", all),
	)
	return nil
}

// CurrentAccount はアカウントIDからアカウントを取得する。見つからない場合はnilを返す。
func (s *Service) CurrentAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// createSession はセッションを作成し永続化し、Cookie用の署名付きトークンを返す。
func (s *Service) createSession(ctx context.Context, accountID int64) (*model.Session, string, error) {
	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to save session: %w", err)
	}

	token, err := s.signer.Sign(session)
	if err != nil {
		return nil, "", err
	}

	return session, token, nil
}

func validateProfile(p *OAuthProfile) error {
	if p == nil {
		return ErrInvalidProfile
	}
	var missing []string
	if strings.TrimSpace(p.ExternalID) == "" {
		missing = append(missing, "sub")
	}
	if strings.TrimSpace(p.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	return nil
}

// displayName はプロフィールの表示名を返す。名前がない場合はメールアドレスを使う。
func displayName(p *OAuthProfile) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return p.Email
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
