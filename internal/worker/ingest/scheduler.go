package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
)

// Runner はパイプライン1回分の実行インターフェース。
type Runner interface {
	Run(ctx context.Context) (*model.RunResult, error)
}

// Scheduler は一定間隔でパイプラインを起動する。
// 複数インスタンスで起動してもロックにより同時に実行されるのは1つのみ。
type Scheduler struct {
	runner     Runner
	logger     *slog.Logger
	runTimeout time.Duration
}

// NewScheduler はSchedulerを生成する。runTimeoutが0以下の場合は1回の実行に期限を設けない。
func NewScheduler(runner Runner, logger *slog.Logger, runTimeout time.Duration) *Scheduler {
	return &Scheduler{
		runner:     runner,
		logger:     logger,
		runTimeout: runTimeout,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取得スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取得スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce はパイプラインを1回実行し、結果をログに記録する。
func (s *Scheduler) RunOnce(ctx context.Context) *model.RunResult {
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	result, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("取得サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil
	}

	if result.Status == model.RunStatusSkipped {
		s.logger.Info("取得サイクルをスキップしました",
			slog.String("reason", result.Reason),
		)
	}
	return result
}
