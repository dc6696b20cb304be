package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/subwatch/internal/model"
)

// PostgresContentRepo はPostgreSQLを使用したコンテンツリポジトリ。
type PostgresContentRepo struct {
	db *sql.DB
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

const contentColumns = `id, native_id, kind, subreddit, parent_native_id, title, body, author,
	permalink, external_url, created_at, score, reply_count, is_sensitive, fetched_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContentItem(s rowScanner) (*model.ContentItem, error) {
	item := &model.ContentItem{}
	var parentNativeID, body, externalURL sql.NullString
	if err := s.Scan(
		&item.ID, &item.NativeID, &item.Kind, &item.Subreddit, &parentNativeID,
		&item.Title, &body, &item.Author, &item.Permalink, &externalURL,
		&item.CreatedAt, &item.Score, &item.ReplyCount, &item.IsSensitive, &item.FetchedAt,
	); err != nil {
		return nil, err
	}
	item.ParentNativeID = stringPtr(parentNativeID)
	item.Body = stringPtr(body)
	item.ExternalURL = stringPtr(externalURL)
	return item, nil
}

// InsertIgnore はnative_idが未登録の場合のみコンテンツを挿入する。
// ON CONFLICT DO NOTHINGで衝突した場合はRETURNINGが行を返さない。
func (r *PostgresContentRepo) InsertIgnore(ctx context.Context, item *model.ContentItem) (model.InsertResult, error) {
	id := item.ID
	if id == "" {
		id = uuid.New().String()
	}
	fetchedAt := item.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO content_items (`+contentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (native_id) DO NOTHING
		 RETURNING `+contentColumns,
		id, item.NativeID, item.Kind, item.Subreddit, nullStringPtr(item.ParentNativeID),
		item.Title, nullStringPtr(item.Body), item.Author, item.Permalink, nullStringPtr(item.ExternalURL),
		item.CreatedAt, item.Score, item.ReplyCount, item.IsSensitive, fetchedAt,
	)

	inserted, err := scanContentItem(row)
	if err == sql.ErrNoRows {
		return model.InsertResult{Conflict: true}, nil
	}
	if err != nil {
		return model.InsertResult{}, fmt.Errorf("コンテンツの挿入に失敗しました: %w", err)
	}
	return model.InsertResult{Inserted: inserted}, nil
}

// FindByNativeID はnative_idでコンテンツを取得する。見つからない場合はnilを返す。
func (r *PostgresContentRepo) FindByNativeID(ctx context.Context, nativeID string) (*model.ContentItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE native_id = $1`,
		nativeID,
	)
	item, err := scanContentItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("native_id によるコンテンツの取得に失敗しました: %w", err)
	}
	return item, nil
}

// LatestPostCreatedAt はサブレディットごとに保存済み投稿の最大created_atを返す。
// コメントは対象外とし、遅れて届いた返信で取得下限が投稿より先に進まないようにする。
func (r *PostgresContentRepo) LatestPostCreatedAt(ctx context.Context, subreddits []string) (map[string]time.Time, error) {
	result := make(map[string]time.Time, len(subreddits))
	if len(subreddits) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT subreddit, MAX(created_at)
		 FROM content_items
		 WHERE subreddit = ANY($1) AND kind = 'post'
		 GROUP BY subreddit`,
		pq.Array(subreddits),
	)
	if err != nil {
		return nil, fmt.Errorf("最新投稿日時の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var latest time.Time
		if err := rows.Scan(&name, &latest); err != nil {
			return nil, fmt.Errorf("最新投稿日時の読み取りに失敗しました: %w", err)
		}
		result[name] = latest
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("最新投稿日時の走査に失敗しました: %w", err)
	}
	return result, nil
}

// ListBySubreddit は指定サブレディットの保存済みコンテンツをcreated_at降順で返す。
func (r *PostgresContentRepo) ListBySubreddit(ctx context.Context, subreddit string) ([]*model.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items
		 WHERE subreddit = $1
		 ORDER BY created_at DESC, native_id ASC`,
		subreddit,
	)
	if err != nil {
		return nil, fmt.Errorf("サブレディットのコンテンツ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("コンテンツ行の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コンテンツ一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// compile-time interface check
var _ ContentRepository = (*PostgresContentRepo)(nil)
