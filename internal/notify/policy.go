package notify

import (
	"time"

	"github.com/hitoshi/subwatch/internal/model"
)

// Decision はテナントへのダイジェスト送信可否の判定結果。
type Decision int

const (
	// DecisionSend は送信する。
	DecisionSend Decision = iota
	// DecisionSkipNoNewItems は新着がないため送信しない。
	DecisionSkipNoNewItems
	// DecisionSkipDisabled はメール通知が無効のため送信しない。
	DecisionSkipDisabled
	// DecisionSkipNoAddress は送信先がないため送信しない。
	DecisionSkipNoAddress
	// DecisionSkipThrottled は前回送信から最小間隔が経過していないため送信しない。
	DecisionSkipThrottled
)

// String はログ出力用の判定名を返す。
func (d Decision) String() string {
	switch d {
	case DecisionSend:
		return "send"
	case DecisionSkipNoNewItems:
		return "no_new_items"
	case DecisionSkipDisabled:
		return "disabled"
	case DecisionSkipNoAddress:
		return "no_address"
	case DecisionSkipThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Decide はテナントの通知設定と新着件数からダイジェスト送信可否を判定する。
// settingsがnilの場合は送信先が不明なため送信しない。
func Decide(settings *model.NotificationSettings, newCount int, now time.Time) Decision {
	if newCount <= 0 {
		return DecisionSkipNoNewItems
	}
	if settings == nil {
		return DecisionSkipNoAddress
	}
	if !settings.EmailEnabled {
		return DecisionSkipDisabled
	}
	if settings.Email == "" {
		return DecisionSkipNoAddress
	}
	if settings.LastNotifiedAt != nil {
		interval := settings.MinInterval
		if interval <= 0 {
			interval = model.DefaultNotificationMinInterval
		}
		if now.Sub(*settings.LastNotifiedAt) < interval {
			return DecisionSkipThrottled
		}
	}
	return DecisionSend
}
