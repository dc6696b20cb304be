// Package content は全テナント共有のコンテンツを重複なく保存する。
package content

import (
	"context"
	"fmt"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/repository"
)

// Store はコンテンツの重複排除付き保存を行う。
type Store struct {
	repo repository.ContentRepository
}

// NewStore はStoreを生成する。
func NewStore(repo repository.ContentRepository) *Store {
	return &Store{repo: repo}
}

// Resolve はコンテンツを保存し、保存済みの行を返す。
// 同じnative_idが既に存在する場合は既存行を変更せずに返し、insertedはfalseとなる。
func (s *Store) Resolve(ctx context.Context, item *model.ContentItem) (*model.ContentItem, bool, error) {
	result, err := s.repo.InsertIgnore(ctx, item)
	if err != nil {
		return nil, false, fmt.Errorf("コンテンツの保存に失敗しました: %w", err)
	}
	if !result.Conflict {
		return result.Inserted, true, nil
	}

	stored, err := s.repo.FindByNativeID(ctx, item.NativeID)
	if err != nil {
		return nil, false, fmt.Errorf("既存コンテンツの取得に失敗しました: %w", err)
	}
	if stored == nil {
		return nil, false, fmt.Errorf("既存コンテンツが見つかりません: %s", item.NativeID)
	}
	return stored, false, nil
}
