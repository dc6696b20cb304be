// Package post はテナントごとの投稿の対応状態とタグを管理する。
package post

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/repository"
)

// Service は投稿の対応状態とタグの管理サービス。
// 全ての操作はuser_id条件付きで行い、他テナントの行には触れない。
type Service struct {
	userPostRepo repository.UserPostRepository
	tagRepo      repository.TagRepository
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userPostRepo repository.UserPostRepository, tagRepo repository.TagRepository) *Service {
	return &Service{
		userPostRepo: userPostRepo,
		tagRepo:      tagRepo,
		now:          time.Now,
	}
}

// UpdateStatus は投稿の対応状態を変更する。
// doneへ遷移した時点でresponded_atを記録し、doneから外れた場合はresponded_atのみ消去する。
// responseTextがnilの場合は既存の返信内容を維持する。
func (s *Service) UpdateStatus(ctx context.Context, userID, postID, status string, responseText *string) (*model.UserPost, error) {
	next, err := model.ParseWorkflowStatus(status)
	if err != nil {
		return nil, model.NewInvalidWorkflowStatusError(status)
	}

	// uuid列との比較でDBエラーにならないよう、形式が不正なIDは存在しない扱いにする
	if _, err := uuid.Parse(postID); err != nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	post, err := s.userPostRepo.FindByID(ctx, userID, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	now := s.now()
	switch {
	case next == model.WorkflowStatusDone && post.Status != model.WorkflowStatusDone:
		post.RespondedAt = &now
	case next != model.WorkflowStatusDone:
		post.RespondedAt = nil
	}
	if responseText != nil {
		post.ResponseText = responseText
	}
	post.Status = next
	post.UpdatedAt = now

	if err := s.userPostRepo.UpdateStatus(ctx, post); err != nil {
		return nil, fmt.Errorf("対応状態の更新に失敗しました: %w", err)
	}
	return post, nil
}

// DeleteTag はタグを削除する。検索語とタグ関連付けはスキーマのCASCADEで削除される。
func (s *Service) DeleteTag(ctx context.Context, userID, tagID string) error {
	if _, err := uuid.Parse(tagID); err != nil {
		return model.NewTagNotFoundError(tagID)
	}

	deleted, err := s.tagRepo.Delete(ctx, userID, tagID)
	if err != nil {
		return fmt.Errorf("タグの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewTagNotFoundError(tagID)
	}
	return nil
}
