// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
)

// ErrDuplicate は一意制約に違反する行を作成しようとした場合に返される。
var ErrDuplicate = errors.New("duplicate record")

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行は外部の認証基盤が行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// ListSubscribedSubreddits は購読者が1人以上いるサブレディット名を名前順で返す。
	ListSubscribedSubreddits(ctx context.Context) ([]string, error)

	// ListUserIDsBySubreddit は指定サブレディットを購読しているユーザーIDを返す。
	ListUserIDsBySubreddit(ctx context.Context, subreddit string) ([]string, error)

	// FindByUserAndSubreddit はユーザーIDとサブレディット名で購読を検索する。
	// 見つからない場合はnilを返す。
	FindByUserAndSubreddit(ctx context.Context, userID, subreddit string) (*model.Subscription, error)

	// ListByUserID はユーザーの購読一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error)

	// Create は購読を作成する。既に購読済みの場合はErrDuplicateを返す。
	Create(ctx context.Context, sub *model.Subscription) error

	// Delete はユーザーの購読を削除する。削除対象が存在した場合はtrueを返す。
	// 取得済みのコンテンツと可視状態は削除しない。
	Delete(ctx context.Context, userID, subreddit string) (bool, error)
}

// WatermarkRepository はサブレディットごとの取得状態の永続化インターフェース。
type WatermarkRepository interface {
	// FindBySubreddits は指定サブレディットのウォーターマークを返す。
	// レコードが存在しないサブレディットはマップに含まれない。
	FindBySubreddits(ctx context.Context, subreddits []string) (map[string]*model.Watermark, error)

	// MarkFetched は取得完了を記録する。
	// 新規作成時のみdefaultIntervalを設定し、既存の再取得間隔は維持する。
	// last_fetched_atは単調非減少で、エラーカウンタはリセットされる。
	MarkFetched(ctx context.Context, subreddit string, at time.Time, defaultInterval int) error

	// MarkFailed は取得失敗を記録する。last_fetched_atは変更しない。
	MarkFailed(ctx context.Context, subreddit string, at time.Time, message string, defaultInterval int) error
}

// ContentRepository は全テナント共有のコンテンツの永続化インターフェース。
type ContentRepository interface {
	// InsertIgnore はnative_idが未登録の場合のみコンテンツを挿入する。
	// 既存行と衝突した場合は既存行を変更せずConflictを返す。
	InsertIgnore(ctx context.Context, item *model.ContentItem) (model.InsertResult, error)

	// FindByNativeID はnative_idでコンテンツを取得する。見つからない場合はnilを返す。
	FindByNativeID(ctx context.Context, nativeID string) (*model.ContentItem, error)

	// LatestPostCreatedAt はサブレディットごとに保存済み投稿の最大created_atを返す。
	// 投稿が1件もないサブレディットはマップに含まれない。
	LatestPostCreatedAt(ctx context.Context, subreddits []string) (map[string]time.Time, error)

	// ListBySubreddit は指定サブレディットの保存済みコンテンツをcreated_at降順で返す。
	ListBySubreddit(ctx context.Context, subreddit string) ([]*model.ContentItem, error)
}

// UserPostRepository はテナントごとの可視状態の永続化インターフェース。
type UserPostRepository interface {
	// InsertIgnore は(userID, contentItemID)の可視状態をstatus=newで挿入する。
	// 行を新規作成した場合のみtrueを返す。
	InsertIgnore(ctx context.Context, userID, contentItemID string) (bool, error)

	// FindByID はユーザーの可視状態をIDで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.UserPost, error)

	// UpdateStatus は対応状態と返信内容を更新する。
	UpdateStatus(ctx context.Context, post *model.UserPost) error

	// ListNewWithContent はユーザーのstatus=newの可視状態をコンテンツ付きで新しい順に返す。
	ListNewWithContent(ctx context.Context, userID string, limit int) ([]*model.UserPostWithContent, error)
}

// TagRepository はタグとタグ関連付けの永続化インターフェース。
type TagRepository interface {
	// ListWithTermsByUserID はユーザーのタグを検索語付きで返す。
	ListWithTermsByUserID(ctx context.Context, userID string) ([]*model.Tag, error)

	// InsertAssociationsIgnore はタグ関連付けを重複無視で挿入し、新規作成した件数を返す。
	InsertAssociationsIgnore(ctx context.Context, userID, contentItemID string, tagIDs []string) (int, error)

	// Delete はユーザーのタグを削除する。削除対象が存在した場合はtrueを返す。
	// 検索語とタグ関連付けはCASCADE削除される。
	Delete(ctx context.Context, userID, tagID string) (bool, error)
}

// NotificationRepository はダイジェスト通知設定の永続化インターフェース。
type NotificationRepository interface {
	// FindByUserIDs は指定ユーザーの通知設定をメールアドレス付きで返す。
	// 設定行が存在しないユーザーには既定値を補う。存在しないユーザーはマップに含まれない。
	FindByUserIDs(ctx context.Context, userIDs []string) (map[string]*model.NotificationSettings, error)

	// MarkNotified は最終通知日時を記録する。
	MarkNotified(ctx context.Context, userID string, at time.Time) error
}
