// Package subscription は購読管理のドメインロジックを提供する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/reddit"
	"github.com/hitoshi/subwatch/internal/repository"
)

// validName は正規化後のサブレディット名の形式。
var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{1,20}$`)

// SourceVerifier はサブレディットの実在確認を行うインターフェース。
type SourceVerifier interface {
	VerifySourceExists(ctx context.Context, name string) bool
}

// Backfiller は購読開始時に保存済みコンテンツをテナントへ展開するインターフェース。
type Backfiller interface {
	Backfill(ctx context.Context, userID, subreddit string) (int, error)
}

// SubscribeResult は購読登録の結果。
type SubscribeResult struct {
	Subscription *model.Subscription
	// Backfilled は保存済みコンテンツから新たに可視となった件数。
	Backfilled int
}

// Service は購読管理のサービス層。
type Service struct {
	subRepo    repository.SubscriptionRepository
	verifier   SourceVerifier
	backfiller Backfiller
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	subRepo repository.SubscriptionRepository,
	verifier SourceVerifier,
	backfiller Backfiller,
	logger *slog.Logger,
) *Service {
	return &Service{
		subRepo:    subRepo,
		verifier:   verifier,
		backfiller: backfiller,
		logger:     logger,
		now:        time.Now,
	}
}

// Subscribe はサブレディットを購読する。
// 名前の正規化と検証、重複確認、実在確認の順に行い、登録後に保存済みコンテンツを展開する。
func (s *Service) Subscribe(ctx context.Context, userID, rawName string) (*SubscribeResult, error) {
	name := reddit.NormalizeSubredditName(rawName)
	if !validName.MatchString(name) {
		return nil, model.NewInvalidSubredditError(rawName)
	}

	existing, err := s.subRepo.FindByUserAndSubreddit(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("購読の確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSubscriptionError()
	}

	if !s.verifier.VerifySourceExists(ctx, name) {
		return nil, model.NewSubredditNotFoundError(name)
	}

	sub := &model.Subscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		Subreddit: name,
		CreatedAt: s.now(),
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateSubscriptionError()
		}
		return nil, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	// 展開の失敗は購読登録を取り消さない
	backfilled, err := s.backfiller.Backfill(ctx, userID, name)
	if err != nil {
		s.logger.Warn("保存済みコンテンツの展開に失敗しました",
			slog.String("user_id", userID),
			slog.String("subreddit", name),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("サブレディットを購読しました",
		slog.String("user_id", userID),
		slog.String("subreddit", name),
		slog.Int("backfilled", backfilled),
	)

	return &SubscribeResult{Subscription: sub, Backfilled: backfilled}, nil
}

// Unsubscribe は購読を解除する。取得済みのコンテンツと可視状態は残す。
func (s *Service) Unsubscribe(ctx context.Context, userID, rawName string) error {
	name := reddit.NormalizeSubredditName(rawName)
	deleted, err := s.subRepo.Delete(ctx, userID, name)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewSubscriptionNotFoundError(name)
	}
	return nil
}

// ListSubscriptions はユーザーの購読一覧を返す。
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]*model.Subscription, error) {
	subs, err := s.subRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	if subs == nil {
		subs = []*model.Subscription{}
	}
	return subs, nil
}
