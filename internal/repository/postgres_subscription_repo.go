package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/subwatch/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// ListSubscribedSubreddits は購読者が1人以上いるサブレディット名を名前順で返す。
func (r *PostgresSubscriptionRepo) ListSubscribedSubreddits(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT subreddit FROM subscriptions ORDER BY subreddit ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("購読中サブレディット一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subreddits []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("サブレディット名の読み取りに失敗しました: %w", err)
		}
		subreddits = append(subreddits, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読中サブレディット一覧の走査に失敗しました: %w", err)
	}
	return subreddits, nil
}

// ListUserIDsBySubreddit は指定サブレディットを購読しているユーザーIDを返す。
func (r *PostgresSubscriptionRepo) ListUserIDsBySubreddit(ctx context.Context, subreddit string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM subscriptions WHERE subreddit = $1 ORDER BY created_at ASC`,
		subreddit,
	)
	if err != nil {
		return nil, fmt.Errorf("購読者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("購読者IDの読み取りに失敗しました: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読者一覧の走査に失敗しました: %w", err)
	}
	return userIDs, nil
}

// FindByUserAndSubreddit はユーザーIDとサブレディット名で購読を検索する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserAndSubreddit(ctx context.Context, userID, subreddit string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, subreddit, created_at
		 FROM subscriptions WHERE user_id = $1 AND subreddit = $2`,
		userID, subreddit,
	).Scan(&sub.ID, &sub.UserID, &sub.Subreddit, &sub.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーとサブレディットによる購読の検索に失敗しました: %w", err)
	}
	return sub, nil
}

// ListByUserID はユーザーの購読一覧を返す。
func (r *PostgresSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, subreddit, created_at
		 FROM subscriptions WHERE user_id = $1 ORDER BY subreddit ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{}
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Subreddit, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// Create は購読を作成する。
// 同じユーザーとサブレディットの組が既に存在する場合はErrDuplicateを返す。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, subreddit, created_at)
		 VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.UserID, sub.Subreddit, sub.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}

// Delete はユーザーの購読を削除する。
func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, userID, subreddit string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = $1 AND subreddit = $2`,
		userID, subreddit,
	)
	if err != nil {
		return false, fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
