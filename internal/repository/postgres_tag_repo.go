package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/subwatch/internal/model"
)

// PostgresTagRepo はPostgreSQLを使用したタグリポジトリ。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

// ListWithTermsByUserID はユーザーのタグを検索語付きで返す。
// 検索語を持たないタグも空のTermsで返す。
func (r *PostgresTagRepo) ListWithTermsByUserID(ctx context.Context, userID string) ([]*model.Tag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.user_id, t.name, t.created_at,
		        COALESCE(array_agg(st.term ORDER BY st.term) FILTER (WHERE st.term IS NOT NULL), '{}')
		 FROM tags t
		 LEFT JOIN search_terms st ON st.tag_id = t.id
		 WHERE t.user_id = $1
		 GROUP BY t.id
		 ORDER BY t.created_at ASC, t.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tags []*model.Tag
	for rows.Next() {
		tag := &model.Tag{}
		var terms pq.StringArray
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.CreatedAt, &terms); err != nil {
			return nil, fmt.Errorf("タグ行の読み取りに失敗しました: %w", err)
		}
		tag.Terms = []string(terms)
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タグ一覧の走査に失敗しました: %w", err)
	}
	return tags, nil
}

// InsertAssociationsIgnore はタグ関連付けを重複無視で一括挿入し、新規作成した件数を返す。
func (r *PostgresTagRepo) InsertAssociationsIgnore(ctx context.Context, userID, contentItemID string, tagIDs []string) (int, error) {
	if len(tagIDs) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO user_post_tags (user_id, content_item_id, tag_id) VALUES ")
	args := make([]any, 0, len(tagIDs)+2)
	args = append(args, userID, contentItemID)
	for i, tagID := range tagIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($1, $2, $%d)", i+3)
		args = append(args, tagID)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	result, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("タグ関連付けの挿入に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("挿入結果の取得に失敗しました: %w", err)
	}
	return int(rowsAffected), nil
}

// Delete はユーザーのタグを削除する。
func (r *PostgresTagRepo) Delete(ctx context.Context, userID, tagID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tags WHERE id = $1 AND user_id = $2`,
		tagID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("タグの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ TagRepository = (*PostgresTagRepo)(nil)
