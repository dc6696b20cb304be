package model

import "time"

// DefaultNotificationMinInterval はダイジェスト送信の最小間隔の既定値。
const DefaultNotificationMinInterval = 24 * time.Hour

// NotificationSettings はテナントのダイジェスト通知設定と送信履歴を表す。
type NotificationSettings struct {
	UserID         string
	Email          string
	EmailEnabled   bool
	MinInterval    time.Duration
	LastNotifiedAt *time.Time
}

// DefaultNotificationSettings は設定行が存在しないテナント向けの既定設定を返す。
func DefaultNotificationSettings(userID, email string) *NotificationSettings {
	return &NotificationSettings{
		UserID:       userID,
		Email:        email,
		EmailEnabled: true,
		MinInterval:  DefaultNotificationMinInterval,
	}
}
