package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hitoshi/subwatch/internal/model"
)

// PostgresWatermarkRepo はPostgreSQLを使用したウォーターマークリポジトリ。
// 構造体スキャンのためsqlxを使用する。
type PostgresWatermarkRepo struct {
	db *sqlx.DB
}

// NewPostgresWatermarkRepo はPostgresWatermarkRepoを生成する。
func NewPostgresWatermarkRepo(db *sqlx.DB) *PostgresWatermarkRepo {
	return &PostgresWatermarkRepo{db: db}
}

// FindBySubreddits は指定サブレディットのウォーターマークを返す。
func (r *PostgresWatermarkRepo) FindBySubreddits(ctx context.Context, subreddits []string) (map[string]*model.Watermark, error) {
	result := make(map[string]*model.Watermark, len(subreddits))
	if len(subreddits) == 0 {
		return result, nil
	}

	query := `
		SELECT subreddit, last_fetched_at, refresh_interval_minutes,
		       consecutive_errors, last_error_at, last_error, updated_at
		FROM subreddit_watermarks
		WHERE subreddit = ANY($1)`

	var rows []model.Watermark
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(subreddits)); err != nil {
		return nil, fmt.Errorf("ウォーターマークの取得に失敗しました: %w", err)
	}

	for i := range rows {
		result[rows[i].Subreddit] = &rows[i]
	}
	return result, nil
}

// MarkFetched は取得完了を記録する。
// GREATESTはNULLを無視するため、初回取得時もそのまま比較できる。
func (r *PostgresWatermarkRepo) MarkFetched(ctx context.Context, subreddit string, at time.Time, defaultInterval int) error {
	query := `
		INSERT INTO subreddit_watermarks
			(subreddit, last_fetched_at, refresh_interval_minutes, consecutive_errors, updated_at)
		VALUES ($1, $2, $3, 0, $2)
		ON CONFLICT (subreddit) DO UPDATE SET
			last_fetched_at = GREATEST(subreddit_watermarks.last_fetched_at, EXCLUDED.last_fetched_at),
			consecutive_errors = 0,
			last_error_at = NULL,
			last_error = NULL,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, subreddit, at, defaultInterval); err != nil {
		return fmt.Errorf("取得完了の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は取得失敗を記録する。
func (r *PostgresWatermarkRepo) MarkFailed(ctx context.Context, subreddit string, at time.Time, message string, defaultInterval int) error {
	query := `
		INSERT INTO subreddit_watermarks
			(subreddit, refresh_interval_minutes, consecutive_errors, last_error_at, last_error, updated_at)
		VALUES ($1, $2, 1, $3, $4, $3)
		ON CONFLICT (subreddit) DO UPDATE SET
			consecutive_errors = subreddit_watermarks.consecutive_errors + 1,
			last_error_at = EXCLUDED.last_error_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, subreddit, defaultInterval, at, message); err != nil {
		return fmt.Errorf("取得失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ WatermarkRepository = (*PostgresWatermarkRepo)(nil)
