// Package fanout は共有コンテンツを購読中の各テナントの可視状態へ展開する。
package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/repository"
)

// Result は1件のコンテンツの展開結果。
type Result struct {
	// NewTenantIDs は今回初めて可視状態が作成されたテナント。
	NewTenantIDs []string
}

// NewVisibilityCount は新規に作成された可視状態の数を返す。
func (r Result) NewVisibilityCount() int {
	return len(r.NewTenantIDs)
}

// Materializer はコンテンツをテナントごとの可視状態とタグ関連付けへ展開する。
// いずれの書き込みも重複無視で行うため、同じ入力で何度実行しても結果は変わらない。
type Materializer struct {
	subRepo      repository.SubscriptionRepository
	userPostRepo repository.UserPostRepository
	tagRepo      repository.TagRepository
	contentRepo  repository.ContentRepository
	logger       *slog.Logger
}

// NewMaterializer はMaterializerを生成する。
func NewMaterializer(
	subRepo repository.SubscriptionRepository,
	userPostRepo repository.UserPostRepository,
	tagRepo repository.TagRepository,
	contentRepo repository.ContentRepository,
	logger *slog.Logger,
) *Materializer {
	return &Materializer{
		subRepo:      subRepo,
		userPostRepo: userPostRepo,
		tagRepo:      tagRepo,
		contentRepo:  contentRepo,
		logger:       logger,
	}
}

// Materialize はコンテンツをサブレディットの全購読者に展開する。
// 可視状態を新規作成したテナントに限り、その時点のタグ定義で照合してタグを関連付ける。
func (m *Materializer) Materialize(ctx context.Context, contentItemID, subreddit, text string) (Result, error) {
	userIDs, err := m.subRepo.ListUserIDsBySubreddit(ctx, subreddit)
	if err != nil {
		return Result{}, fmt.Errorf("購読者の取得に失敗しました: %w", err)
	}

	var result Result
	for _, userID := range userIDs {
		created, err := m.materializeForUser(ctx, userID, contentItemID, text, nil)
		if err != nil {
			return result, err
		}
		if created {
			result.NewTenantIDs = append(result.NewTenantIDs, userID)
		}
	}
	return result, nil
}

// Backfill は購読開始時に、保存済みの投稿を1人のテナントへ展開する。
// 新規に作成した可視状態の数を返す。
func (m *Materializer) Backfill(ctx context.Context, userID, subreddit string) (int, error) {
	items, err := m.contentRepo.ListBySubreddit(ctx, subreddit)
	if err != nil {
		return 0, fmt.Errorf("保存済みコンテンツの取得に失敗しました: %w", err)
	}

	var tags []*model.Tag
	if len(items) > 0 {
		tags, err = m.tagRepo.ListWithTermsByUserID(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("タグの取得に失敗しました: %w", err)
		}
		if tags == nil {
			tags = []*model.Tag{}
		}
	}

	count := 0
	for _, item := range items {
		if !item.IsPost() {
			continue
		}
		created, err := m.materializeForUser(ctx, userID, item.ID, item.MatchText(), tags)
		if err != nil {
			return count, err
		}
		if created {
			count++
		}
	}

	m.logger.Info("購読済みコンテンツを展開しました",
		slog.String("user_id", userID),
		slog.String("subreddit", subreddit),
		slog.Int("new_visibility", count),
	)
	return count, nil
}

// materializeForUser は1人のテナントに可視状態を作成し、作成した場合のみタグを関連付ける。
// tagsがnilの場合はテナントのタグを読み込む。
func (m *Materializer) materializeForUser(ctx context.Context, userID, contentItemID, text string, tags []*model.Tag) (bool, error) {
	created, err := m.userPostRepo.InsertIgnore(ctx, userID, contentItemID)
	if err != nil {
		return false, fmt.Errorf("可視状態の作成に失敗しました: %w", err)
	}
	if !created {
		return false, nil
	}

	if tags == nil {
		tags, err = m.tagRepo.ListWithTermsByUserID(ctx, userID)
		if err != nil {
			return true, fmt.Errorf("タグの取得に失敗しました: %w", err)
		}
	}

	tagIDs := MatchTags(tags, text)
	if len(tagIDs) == 0 {
		return true, nil
	}
	if _, err := m.tagRepo.InsertAssociationsIgnore(ctx, userID, contentItemID, tagIDs); err != nil {
		return true, fmt.Errorf("タグの関連付けに失敗しました: %w", err)
	}
	return true, nil
}
