// Package memo は日記メモのドメインロジックを提供する。
package memo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/quieted/internal/metrics"
	"github.com/hitoshi/quieted/internal/model"
	"github.com/hitoshi/quieted/internal/repository"
)

// Service はメモの一覧取得、日付指定の取得、保存を提供するサービス層。
// 1アカウント1日1件の制約はリポジトリのupsertで保証する。
type Service struct {
	repo    repository.MemoRepository
	metrics metrics.MetricsCollector
	loc     *time.Location
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// locは「今日」の判定に使うタイムゾーン。nilの場合はUTCとする。
func NewService(repo repository.MemoRepository, m metrics.MetricsCollector, loc *time.Location) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:    repo,
		metrics: m,
		loc:     loc,
		now:     time.Now,
	}
}

// Today は設定されたタイムゾーンでの今日の日付キーを返す。
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(model.MemoDateLayout)
}

// List はアカウントの全メモを日付の降順で返す。
func (s *Service) List(ctx context.Context, accountID int64) ([]*model.Memo, error) {
	memos, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("メモ一覧の取得に失敗しました: %w", err)
	}
	return memos, nil
}

// Get は指定日のメモを返す。存在しない場合はnilを返す。
// 日付の書式が不正な場合もメモは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, accountID int64, date string) (*model.Memo, error) {
	if !IsValidDate(date) {
		return nil, nil
	}
	memo, err := s.repo.FindByDate(ctx, accountID, date)
	if err != nil {
		return nil, fmt.Errorf("メモの取得に失敗しました: %w", err)
	}
	return memo, nil
}

// Save は入力を正規化・検証したうえで、(アカウント, 日付) のメモを作成または上書きする。
// 検証に失敗した場合は*model.ValidationErrorを返し、ストアは変更しない。
// createdは新規作成の場合にtrueとなる。
func (s *Service) Save(ctx context.Context, accountID int64, input model.MemoInput) (*model.Memo, bool, error) {
	normalized, verr := Normalize(input)
	if verr != nil {
		s.metrics.RecordMemoValidationFailure()
		return nil, false, verr
	}

	memo, created, err := s.repo.Upsert(ctx, accountID, normalized, s.now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("メモの保存に失敗しました: %w", err)
	}

	s.metrics.RecordMemoSave(created)
	return memo, created, nil
}

// Normalize はタイトル、リンク、本文の前後の空白を除去し、入力を検証する。
// 空のリンクはnilに正規化する。リンクは自由記述で形式は問わない。
// アンカーにするかどうかは表示側で判定する。
func Normalize(input model.MemoInput) (model.MemoInput, *model.ValidationError) {
	out := model.MemoInput{
		Date:    strings.TrimSpace(input.Date),
		Title:   strings.TrimSpace(input.Title),
		Content: strings.TrimSpace(input.Content),
	}
	if input.Link != nil {
		if link := strings.TrimSpace(*input.Link); link != "" {
			out.Link = &link
		}
	}

	verr := &model.ValidationError{}
	if !IsValidDate(out.Date) {
		verr.Add("date", "must be a calendar date in YYYY-MM-DD format")
	}
	if out.Title == "" {
		verr.Add("title", "is required")
	}
	if out.Content == "" {
		verr.Add("content", "is required")
	}

	if verr.HasErrors() {
		return out, verr
	}
	return out, nil
}

// IsValidDate は文字列が実在する暦日のYYYY-MM-DDであるかを返す。
func IsValidDate(date string) bool {
	if len(date) != len(model.MemoDateLayout) {
		return false
	}
	_, err := time.Parse(model.MemoDateLayout, date)
	return err == nil
}
