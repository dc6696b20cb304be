package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
)

// sourceOutcome はサブレディット1件分の処理結果。
type sourceOutcome struct {
	stats     *model.SourceStats
	newCounts map[string]int
	failed    bool
}

// processSource はサブレディット1件を取得し、保存と展開を行ってからウォーターマークを更新する。
// 検索APIの失敗は0件として扱い失敗を記録する。返すエラーはデータベース障害など続行できないものに限る。
func (p *Pipeline) processSource(ctx context.Context, subreddit string, after int64, now time.Time) (*sourceOutcome, error) {
	start := time.Now()
	outcome := &sourceOutcome{
		stats:     &model.SourceStats{},
		newCounts: map[string]int{},
	}

	items, fetchErr := p.client.FetchSource(ctx, subreddit, after)
	if fetchErr != nil {
		p.logger.Error("サブレディットの取得に失敗しました",
			slog.String("subreddit", subreddit),
			slog.Int64("after", after),
			slog.String("error", fetchErr.Error()),
		)
		p.metrics.RecordFetchFailure(subreddit, fetchErr.Error())
		if err := p.watermarks.RecordFetchFailed(ctx, subreddit, now, fetchErr); err != nil {
			return nil, err
		}
		outcome.failed = true
		return outcome, nil
	}

	stored := 0
	for _, item := range items {
		canonical, inserted, err := p.store.Resolve(ctx, item)
		if err != nil {
			return nil, err
		}
		outcome.stats.Items++
		if inserted {
			stored++
		}

		res, err := p.fanout.Materialize(ctx, canonical.ID, subreddit, canonical.MatchText())
		if err != nil {
			return nil, err
		}
		outcome.stats.NewVisibility += res.NewVisibilityCount()
		for _, userID := range res.NewTenantIDs {
			outcome.newCounts[userID]++
		}

		if !canonical.IsPost() {
			continue
		}
		n, err := p.storeReplies(ctx, canonical)
		if err != nil {
			return nil, err
		}
		outcome.stats.Comments += n
	}

	if err := p.watermarks.RecordFetchCompleted(ctx, subreddit, now); err != nil {
		return nil, err
	}

	p.metrics.RecordFetchSuccess(subreddit)
	p.metrics.RecordItemsStored(stored)
	p.metrics.RecordVisibilityCreated(outcome.stats.NewVisibility)

	p.logger.Info("サブレディットの取得が完了しました",
		slog.String("subreddit", subreddit),
		slog.Int64("after", after),
		slog.Int("items", outcome.stats.Items),
		slog.Int("items_inserted", stored),
		slog.Int("comments", outcome.stats.Comments),
		slog.Int("new_visibility", outcome.stats.NewVisibility),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return outcome, nil
}

// storeReplies は投稿への返信を取得して保存し、新たに保存した件数を返す。
// 返信の取得失敗はログに記録して0件として扱う。
func (p *Pipeline) storeReplies(ctx context.Context, post *model.ContentItem) (int, error) {
	replies, err := p.client.FetchReplies(ctx, post.NativeID)
	if err != nil {
		p.logger.Warn("返信の取得に失敗しました",
			slog.String("native_id", post.NativeID),
			slog.String("error", err.Error()),
		)
		return 0, nil
	}

	inserted := 0
	for _, reply := range replies {
		_, created, err := p.store.Resolve(ctx, reply)
		if err != nil {
			return 0, err
		}
		if created {
			inserted++
		}
	}
	return inserted, nil
}
