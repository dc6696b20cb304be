package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/subwatch/internal/model"
)

// PostgresUserPostRepo はPostgreSQLを使用した可視状態リポジトリ。
type PostgresUserPostRepo struct {
	db *sql.DB
}

// NewPostgresUserPostRepo はPostgresUserPostRepoを生成する。
func NewPostgresUserPostRepo(db *sql.DB) *PostgresUserPostRepo {
	return &PostgresUserPostRepo{db: db}
}

// InsertIgnore は(userID, contentItemID)の可視状態をstatus=newで挿入する。
// UNIQUE(user_id, content_item_id)制約によるON CONFLICT DO NOTHINGで冪等にする。
func (r *PostgresUserPostRepo) InsertIgnore(ctx context.Context, userID, contentItemID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO user_posts (id, user_id, content_item_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (user_id, content_item_id) DO NOTHING`,
		uuid.New().String(), userID, contentItemID, model.WorkflowStatusNew,
	)
	if err != nil {
		return false, fmt.Errorf("可視状態の挿入に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入結果の取得に失敗しました: %w", err)
	}
	return rowsAffected == 1, nil
}

// FindByID はユーザーの可視状態をIDで取得する。見つからない場合はnilを返す。
func (r *PostgresUserPostRepo) FindByID(ctx context.Context, userID, id string) (*model.UserPost, error) {
	post := &model.UserPost{}
	var responseText sql.NullString
	var respondedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, content_item_id, status, response_text, responded_at, created_at, updated_at
		 FROM user_posts WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(
		&post.ID, &post.UserID, &post.ContentItemID, &post.Status,
		&responseText, &respondedAt, &post.CreatedAt, &post.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("可視状態の取得に失敗しました: %w", err)
	}

	post.ResponseText = stringPtr(responseText)
	post.RespondedAt = timePtr(respondedAt)
	return post, nil
}

// UpdateStatus は対応状態と返信内容を更新する。
func (r *PostgresUserPostRepo) UpdateStatus(ctx context.Context, post *model.UserPost) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_posts
		 SET status = $3, response_text = $4, responded_at = $5, updated_at = $6
		 WHERE id = $1 AND user_id = $2`,
		post.ID, post.UserID, post.Status, nullStringPtr(post.ResponseText), post.RespondedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("対応状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ListNewWithContent はユーザーのstatus=newの可視状態をコンテンツ付きで新しい順に返す。
// ダイジェストには投稿のみを含める。
func (r *PostgresUserPostRepo) ListNewWithContent(ctx context.Context, userID string, limit int) ([]*model.UserPostWithContent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT up.id, up.user_id, up.content_item_id, up.status, up.created_at, up.updated_at,
		        c.id, c.native_id, c.kind, c.subreddit, c.parent_native_id, c.title, c.body, c.author,
		        c.permalink, c.external_url, c.created_at, c.score, c.reply_count, c.is_sensitive, c.fetched_at
		 FROM user_posts up
		 JOIN content_items c ON c.id = up.content_item_id
		 WHERE up.user_id = $1 AND up.status = 'new' AND c.kind = 'post'
		 ORDER BY c.created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未対応投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.UserPostWithContent
	for rows.Next() {
		p := &model.UserPostWithContent{}
		var parentNativeID, body, externalURL sql.NullString
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.ContentItemID, &p.Status, &p.CreatedAt, &p.UpdatedAt,
			&p.Content.ID, &p.Content.NativeID, &p.Content.Kind, &p.Content.Subreddit, &parentNativeID,
			&p.Content.Title, &body, &p.Content.Author, &p.Content.Permalink, &externalURL,
			&p.Content.CreatedAt, &p.Content.Score, &p.Content.ReplyCount, &p.Content.IsSensitive, &p.Content.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("未対応投稿行の読み取りに失敗しました: %w", err)
		}
		p.Content.ParentNativeID = stringPtr(parentNativeID)
		p.Content.Body = stringPtr(body)
		p.Content.ExternalURL = stringPtr(externalURL)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未対応投稿一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// compile-time interface check
var _ UserPostRepository = (*PostgresUserPostRepo)(nil)
