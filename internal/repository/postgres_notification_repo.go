package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/subwatch/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知設定リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// FindByUserIDs は指定ユーザーの通知設定をメールアドレス付きで返す。
// 設定行が存在しないユーザーはテーブルのデフォルト値と同じ既定値で補う。
func (r *PostgresNotificationRepo) FindByUserIDs(ctx context.Context, userIDs []string) (map[string]*model.NotificationSettings, error) {
	result := make(map[string]*model.NotificationSettings, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email,
		        ns.email_enabled, ns.min_interval_minutes, ns.last_notified_at
		 FROM users u
		 LEFT JOIN notification_settings ns ON ns.user_id = u.id
		 WHERE u.id = ANY($1::uuid[])`,
		pq.Array(userIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("通知設定の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, email string
		var enabled sql.NullBool
		var minutes sql.NullInt64
		var lastNotifiedAt sql.NullTime
		if err := rows.Scan(&userID, &email, &enabled, &minutes, &lastNotifiedAt); err != nil {
			return nil, fmt.Errorf("通知設定行の読み取りに失敗しました: %w", err)
		}

		settings := model.DefaultNotificationSettings(userID, email)
		if enabled.Valid {
			settings.EmailEnabled = enabled.Bool
		}
		if minutes.Valid {
			settings.MinInterval = time.Duration(minutes.Int64) * time.Minute
		}
		settings.LastNotifiedAt = timePtr(lastNotifiedAt)
		result[userID] = settings
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知設定の走査に失敗しました: %w", err)
	}
	return result, nil
}

// MarkNotified は最終通知日時を記録する。設定行がなければ既定値で作成する。
func (r *PostgresNotificationRepo) MarkNotified(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_settings (user_id, last_notified_at, updated_at)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (user_id) DO UPDATE SET
		     last_notified_at = EXCLUDED.last_notified_at,
		     updated_at = EXCLUDED.updated_at`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("最終通知日時の記録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
