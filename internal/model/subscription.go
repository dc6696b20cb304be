package model

import "time"

// DefaultRefreshIntervalMinutes はウォーターマーク新規作成時の再取得間隔（分）。
const DefaultRefreshIntervalMinutes = 60

// Subscription はテナントとサブレディットの購読関係を表す。
// Subredditは正規化済み（小文字、"r/" プレフィックスなし）の名前。
type Subscription struct {
	ID        string
	UserID    string
	Subreddit string
	CreatedAt time.Time
}

// Watermark はサブレディットごとの取得状態を表す。
// LastFetchedAtがnilの場合は未取得として扱う。
type Watermark struct {
	Subreddit              string     `db:"subreddit"`
	LastFetchedAt          *time.Time `db:"last_fetched_at"`
	RefreshIntervalMinutes int        `db:"refresh_interval_minutes"`
	ConsecutiveErrors      int        `db:"consecutive_errors"`
	LastErrorAt            *time.Time `db:"last_error_at"`
	LastError              *string    `db:"last_error"`
	UpdatedAt              time.Time  `db:"updated_at"`
}
