// Package notify は新着投稿のダイジェスト通知の送信判定と送信を行う。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/repository"
)

// DefaultDigestMaxItems はダイジェストに載せる投稿数の既定値。
const DefaultDigestMaxItems = 20

// Dispatcher はテナントごとに送信可否を判定し、ダイジェストを送信する。
type Dispatcher struct {
	notifRepo    repository.NotificationRepository
	userPostRepo repository.UserPostRepository
	builder      *DigestBuilder
	sender       Sender
	maxItems     int
	logger       *slog.Logger
	now          func() time.Time
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	notifRepo repository.NotificationRepository,
	userPostRepo repository.UserPostRepository,
	builder *DigestBuilder,
	sender Sender,
	maxItems int,
	logger *slog.Logger,
) *Dispatcher {
	if maxItems <= 0 {
		maxItems = DefaultDigestMaxItems
	}
	return &Dispatcher{
		notifRepo:    notifRepo,
		userPostRepo: userPostRepo,
		builder:      builder,
		sender:       sender,
		maxItems:     maxItems,
		logger:       logger,
		now:          time.Now,
	}
}

// Dispatch はテナントごとの新着件数をもとにダイジェストを送信し、送信数と見送り数を返す。
// 個々のテナントへの送信失敗は見送りとして数え、処理を継続する。
func (d *Dispatcher) Dispatch(ctx context.Context, newCounts map[string]int) (model.EmailStats, error) {
	var stats model.EmailStats
	if len(newCounts) == 0 {
		return stats, nil
	}

	userIDs := make([]string, 0, len(newCounts))
	for id := range newCounts {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	settings, err := d.notifRepo.FindByUserIDs(ctx, userIDs)
	if err != nil {
		return stats, fmt.Errorf("通知設定の取得に失敗しました: %w", err)
	}

	now := d.now()
	for _, userID := range userIDs {
		s := settings[userID]
		decision := Decide(s, newCounts[userID], now)
		if decision != DecisionSend {
			d.logger.Debug("ダイジェスト送信を見送りました",
				slog.String("user_id", userID),
				slog.String("reason", decision.String()),
			)
			stats.Skipped++
			continue
		}

		if err := d.sendDigest(ctx, s, newCounts[userID]); err != nil {
			d.logger.Error("ダイジェストの送信に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			stats.Skipped++
			continue
		}

		if err := d.notifRepo.MarkNotified(ctx, userID, now); err != nil {
			d.logger.Error("最終通知日時の記録に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		stats.Sent++
	}

	d.logger.Info("ダイジェスト通知を処理しました",
		slog.Int("sent", stats.Sent),
		slog.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func (d *Dispatcher) sendDigest(ctx context.Context, s *model.NotificationSettings, newCount int) error {
	posts, err := d.userPostRepo.ListNewWithContent(ctx, s.UserID, d.maxItems)
	if err != nil {
		return fmt.Errorf("未対応投稿の取得に失敗しました: %w", err)
	}

	msg, err := d.builder.Build(s.Email, newCount, posts)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, msg)
}
