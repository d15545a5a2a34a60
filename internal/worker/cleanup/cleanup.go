// Package cleanup は期限切れセッションの削除ジョブを提供する。
// サーバーは期限切れセッションを参照時に削除するため、このジョブは
// cronなど外部のスケジューラからcleanupコマンドとして実行する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/quieted/internal/metrics"
)

// ExpiredSessionDeleter は期限切れセッションを一括削除するストア。
// repository.SessionRepositoryが満たす。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 削除対象がなくてもエラーにならない冪等な処理とする。
type CleanupJob struct {
	sessions ExpiredSessionDeleter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions ExpiredSessionDeleter, m metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は実行時点で期限切れのセッションを削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordSessionsCleaned(deleted)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
