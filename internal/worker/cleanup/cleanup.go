// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 起動時に1回、その後は一定間隔で実行する。
// Redisのセッションストアは TTL で失効するため対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/metrics"
)

// ExpiredSessionDeleter は期限切れセッションの削除を抽象化するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理を保証する。
type SessionCleanupJob struct {
	sessions ExpiredSessionDeleter
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。mcがnilの場合は記録しない。
func NewSessionCleanupJob(sessions ExpiredSessionDeleter, logger *slog.Logger, mc metrics.MetricsCollector) *SessionCleanupJob {
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &SessionCleanupJob{
		sessions: sessions,
		logger:   logger,
		metrics:  mc,
	}
}

// Run は期限切れセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordSessionsCleaned(deletedCount)

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回Runを実行し、以降はintervalごとに実行する。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに残して継続する。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("セッションクリーンアップジョブを開始します",
		slog.Duration("interval", interval),
	)

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
