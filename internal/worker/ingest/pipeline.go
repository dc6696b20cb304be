// Package ingest はサブレディットの定期取得とテナントへの展開を行うパイプラインを提供する。
// ロック取得、取得対象の選定、取得、重複排除、展開、ウォーターマーク更新、通知を順に実行する。
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hitoshi/subwatch/internal/fanout"
	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/repository"
	"github.com/hitoshi/subwatch/internal/watermark"
)

// unlockTimeout はロック解放に使う独立したコンテキストのタイムアウト。
const unlockTimeout = 10 * time.Second

// Locker はプロセスをまたいだ排他制御のインターフェース。
type Locker interface {
	// TryLock は待たずにロックの取得を試み、取得できた場合はtrueを返す。
	TryLock(ctx context.Context) (bool, error)
	// Unlock はロックを解放する。
	Unlock(ctx context.Context) error
}

// SearchClient は外部検索APIのインターフェース。
type SearchClient interface {
	FetchSource(ctx context.Context, subreddit string, after int64) ([]*model.ContentItem, error)
	FetchReplies(ctx context.Context, nativeID string) ([]*model.ContentItem, error)
}

// WatermarkService はサブレディットごとの取得状態のインターフェース。
type WatermarkService interface {
	GetDueSources(ctx context.Context, all []string, now time.Time) (watermark.DuePartition, error)
	LowerBounds(ctx context.Context, subreddits []string, now time.Time) (map[string]int64, error)
	RecordFetchCompleted(ctx context.Context, subreddit string, now time.Time) error
	RecordFetchFailed(ctx context.Context, subreddit string, now time.Time, cause error) error
}

// ContentStore は重複排除付きのコンテンツ保存のインターフェース。
type ContentStore interface {
	Resolve(ctx context.Context, item *model.ContentItem) (*model.ContentItem, bool, error)
}

// Materializer はテナントへの展開のインターフェース。
type Materializer interface {
	Materialize(ctx context.Context, contentItemID, subreddit, text string) (fanout.Result, error)
}

// Dispatcher はダイジェスト通知のインターフェース。
type Dispatcher interface {
	Dispatch(ctx context.Context, newCounts map[string]int) (model.EmailStats, error)
}

// MetricsRecorder はパイプラインのメトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordRun(status string, duration time.Duration)
	RecordFetchSuccess(subreddit string)
	RecordFetchFailure(subreddit string, reason string)
	RecordItemsStored(count int)
	RecordVisibilityCreated(count int)
	RecordEmails(sent, skipped int)
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(string, time.Duration)   {}
func (nopMetrics) RecordFetchSuccess(string)         {}
func (nopMetrics) RecordFetchFailure(string, string) {}
func (nopMetrics) RecordItemsStored(int)             {}
func (nopMetrics) RecordVisibilityCreated(int)       {}
func (nopMetrics) RecordEmails(int, int)             {}

// PipelineDeps はPipelineの依存関係。
type PipelineDeps struct {
	Locker     Locker
	SubRepo    repository.SubscriptionRepository
	Watermarks WatermarkService
	Client     SearchClient
	Store      ContentStore
	Fanout     Materializer
	Dispatcher Dispatcher
	Metrics    MetricsRecorder
	Logger     *slog.Logger
}

// Pipeline は取得から通知までの1回分の実行を担う。
type Pipeline struct {
	locker     Locker
	subRepo    repository.SubscriptionRepository
	watermarks WatermarkService
	client     SearchClient
	store      ContentStore
	fanout     Materializer
	dispatcher Dispatcher
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline はPipelineを生成する。
func NewPipeline(deps PipelineDeps) *Pipeline {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Pipeline{
		locker:     deps.Locker,
		subRepo:    deps.SubRepo,
		watermarks: deps.Watermarks,
		client:     deps.Client,
		store:      deps.Store,
		fanout:     deps.Fanout,
		dispatcher: deps.Dispatcher,
		metrics:    metrics,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Run はパイプラインを1回実行する。
//
// ロックを取得できなかった場合は他の処理を行わずskippedの結果を返す。
// ロックを取得した場合は、処理の成否やpanicにかかわらず必ず1回だけ解放する。
// panicは解放後にエラーへ変換して返す。
func (p *Pipeline) Run(ctx context.Context) (result *model.RunResult, err error) {
	start := time.Now()

	acquired, err := p.locker.TryLock(ctx)
	if err != nil {
		p.metrics.RecordRun(string(model.RunStatusError), time.Since(start))
		return nil, fmt.Errorf("ロックの取得に失敗しました: %w", err)
	}
	if !acquired {
		p.logger.Info("他の実行が進行中のためスキップしました")
		p.metrics.RecordRun(string(model.RunStatusSkipped), time.Since(start))
		return model.NewSkippedRunResult(), nil
	}

	defer func() {
		recovered := recover()

		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if unlockErr := p.locker.Unlock(unlockCtx); unlockErr != nil {
			p.logger.Error("ロックの解放に失敗しました",
				slog.String("error", unlockErr.Error()),
			)
		}

		if recovered != nil {
			p.logger.Error("パイプラインでpanicが発生しました",
				slog.Any("panic", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			result = nil
			err = fmt.Errorf("パイプラインでpanicが発生しました: %v", recovered)
		}

		status := model.RunStatusOK
		if err != nil {
			status = model.RunStatusError
		}
		p.metrics.RecordRun(string(status), time.Since(start))
	}()

	return p.run(ctx)
}

func (p *Pipeline) run(ctx context.Context) (*model.RunResult, error) {
	now := p.now()

	subreddits, err := p.subRepo.ListSubscribedSubreddits(ctx)
	if err != nil {
		return nil, fmt.Errorf("購読中のサブレディットの取得に失敗しました: %w", err)
	}

	result := &model.RunResult{
		Status:  model.RunStatusOK,
		Fetched: []string{},
	}
	if len(subreddits) == 0 {
		p.logger.Info("購読中のサブレディットはありません")
		return result, nil
	}

	partition, err := p.watermarks.GetDueSources(ctx, subreddits, now)
	if err != nil {
		return nil, err
	}
	result.Skipped = len(partition.NotDue)
	if len(partition.Due) == 0 {
		p.logger.Info("取得対象のサブレディットはありません",
			slog.Int("skipped", result.Skipped),
		)
		return result, nil
	}

	bounds, err := p.watermarks.LowerBounds(ctx, partition.Due, now)
	if err != nil {
		return nil, err
	}

	p.logger.Info("取得サイクルを開始します",
		slog.Int("due", len(partition.Due)),
		slog.Int("skipped", result.Skipped),
	)

	result.Sources = make(map[string]*model.SourceStats, len(partition.Due))
	newCounts := make(map[string]int)
	for _, sub := range partition.Due {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("取得サイクルが中断されました: %w", err)
		}

		outcome, err := p.processSource(ctx, sub, bounds[sub], now)
		if err != nil {
			return nil, fmt.Errorf("サブレディット %s の処理に失敗しました: %w", sub, err)
		}

		result.Fetched = append(result.Fetched, sub)
		result.Sources[sub] = outcome.stats
		if outcome.failed {
			result.Failed = append(result.Failed, sub)
		}
		for userID, n := range outcome.newCounts {
			newCounts[userID] += n
		}
	}

	emails, err := p.dispatcher.Dispatch(ctx, newCounts)
	if err != nil {
		p.logger.Error("ダイジェスト通知に失敗しました",
			slog.String("error", err.Error()),
		)
		emails = model.EmailStats{Skipped: len(newCounts)}
	}
	result.Emails = &emails
	p.metrics.RecordEmails(emails.Sent, emails.Skipped)

	p.logger.Info("取得サイクルが完了しました",
		slog.Int("fetched", len(result.Fetched)),
		slog.Int("failed", len(result.Failed)),
		slog.Int("skipped", result.Skipped),
		slog.Int("emails_sent", emails.Sent),
	)
	return result, nil
}
