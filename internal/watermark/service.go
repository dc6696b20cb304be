// Package watermark はサブレディットごとの取得状態と取得範囲の下限を管理する。
package watermark

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/repository"
)

// DefaultBackfillWindow は投稿が1件も保存されていないサブレディットの取得範囲。
const DefaultBackfillWindow = 7 * 24 * time.Hour

// maxErrorMessageLength は記録するエラーメッセージの最大長。
const maxErrorMessageLength = 1000

// DuePartition は取得対象と対象外に分割したサブレディット一覧。
// いずれも入力の順序を保つ。
type DuePartition struct {
	Due    []string
	NotDue []string
}

// Service はウォーターマークの参照と更新を提供する。
type Service struct {
	watermarkRepo   repository.WatermarkRepository
	contentRepo     repository.ContentRepository
	defaultInterval int
	backfillWindow  time.Duration
	logger          *slog.Logger
}

// NewService はServiceを生成する。
// defaultIntervalは新規作成時の再取得間隔（分）、backfillWindowは初回取得の範囲。
func NewService(
	watermarkRepo repository.WatermarkRepository,
	contentRepo repository.ContentRepository,
	defaultInterval int,
	backfillWindow time.Duration,
	logger *slog.Logger,
) *Service {
	if defaultInterval <= 0 {
		defaultInterval = model.DefaultRefreshIntervalMinutes
	}
	if backfillWindow <= 0 {
		backfillWindow = DefaultBackfillWindow
	}
	return &Service{
		watermarkRepo:   watermarkRepo,
		contentRepo:     contentRepo,
		defaultInterval: defaultInterval,
		backfillWindow:  backfillWindow,
		logger:          logger,
	}
}

// GetDueSources はサブレディットを取得対象と対象外に分割する。
//
// 記録がない、または一度も取得していないサブレディットは取得対象となる。
// それ以外は前回取得から再取得間隔が経過していれば取得対象となる。
// 連続エラーがある場合は、最後のエラーからバックオフ時間が経過するまで対象外とする。
func (s *Service) GetDueSources(ctx context.Context, all []string, now time.Time) (DuePartition, error) {
	partition := DuePartition{Due: []string{}, NotDue: []string{}}
	if len(all) == 0 {
		return partition, nil
	}

	watermarks, err := s.watermarkRepo.FindBySubreddits(ctx, all)
	if err != nil {
		return DuePartition{}, fmt.Errorf("ウォーターマークの取得に失敗しました: %w", err)
	}

	for _, sub := range all {
		if s.isDue(watermarks[sub], now) {
			partition.Due = append(partition.Due, sub)
		} else {
			partition.NotDue = append(partition.NotDue, sub)
		}
	}
	return partition, nil
}

func (s *Service) isDue(wm *model.Watermark, now time.Time) bool {
	if wm == nil {
		return true
	}

	if until := backoffUntil(wm.ConsecutiveErrors, wm.LastErrorAt); now.Before(until) {
		return false
	}

	if wm.LastFetchedAt == nil {
		return true
	}

	interval := wm.RefreshIntervalMinutes
	if interval <= 0 {
		interval = s.defaultInterval
	}
	return now.Sub(*wm.LastFetchedAt) >= time.Duration(interval)*time.Minute
}

// GetLastContentTimestamp はサブレディットごとに保存済み投稿の最新作成日時を返す。
// 投稿がないサブレディットはマップに含まれない。
func (s *Service) GetLastContentTimestamp(ctx context.Context, subreddits []string) (map[string]time.Time, error) {
	latest, err := s.contentRepo.LatestPostCreatedAt(ctx, subreddits)
	if err != nil {
		return nil, fmt.Errorf("最新投稿日時の取得に失敗しました: %w", err)
	}
	return latest, nil
}

// LowerBounds はサブレディットごとの取得範囲の下限（Unix秒）を返す。
// 保存済み投稿があればその最新作成日時、なければnowからbackfillWindow前となる。
func (s *Service) LowerBounds(ctx context.Context, subreddits []string, now time.Time) (map[string]int64, error) {
	latest, err := s.GetLastContentTimestamp(ctx, subreddits)
	if err != nil {
		return nil, err
	}

	fallback := now.Add(-s.backfillWindow).Unix()
	bounds := make(map[string]int64, len(subreddits))
	for _, sub := range subreddits {
		if t, ok := latest[sub]; ok {
			bounds[sub] = t.Unix()
			continue
		}
		bounds[sub] = fallback
	}
	return bounds, nil
}

// RecordFetchCompleted は取得完了を記録し、エラー状態をリセットする。
func (s *Service) RecordFetchCompleted(ctx context.Context, subreddit string, now time.Time) error {
	return s.watermarkRepo.MarkFetched(ctx, subreddit, now, s.defaultInterval)
}

// RecordFetchFailed は取得失敗を記録する。前回取得日時は変更しない。
func (s *Service) RecordFetchFailed(ctx context.Context, subreddit string, now time.Time, cause error) error {
	msg := cause.Error()
	if len(msg) > maxErrorMessageLength {
		msg = strings.ToValidUTF8(msg[:maxErrorMessageLength], "")
	}
	if err := s.watermarkRepo.MarkFailed(ctx, subreddit, now, msg, s.defaultInterval); err != nil {
		return err
	}
	s.logger.Warn("取得失敗を記録しました",
		slog.String("subreddit", subreddit),
		slog.String("error", msg),
	)
	return nil
}
