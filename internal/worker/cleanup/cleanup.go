// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 有効期限から保持日数（デフォルト30日）を超過したセッションを日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 有効期限後の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionDaysが0以下の場合は30日とする。
func NewCleanupJob(db Executor, retentionDays int, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は有効期限からRetentionDays日を超過したセッションを削除する。
// 削除対象がない場合もエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return nil
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	// Runが失敗内容をログに出力済み
	_ = j.Run(ctx)
}
