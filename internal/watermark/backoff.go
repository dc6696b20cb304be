package watermark

import "time"

const (
	// initialBackoff は取得失敗後の初回待機時間（15分）。
	initialBackoff = 15 * time.Minute
	// maxBackoff は取得失敗後の待機時間の上限（6時間）。
	maxBackoff = 6 * time.Hour
)

// CalculateBackoff は連続エラー回数に基づいて次回取得までの待機時間を計算する。
// 1回目は15分、以降2倍ずつ増加し、最大6時間。連続エラーがなければ0を返す。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	if consecutiveErrors <= 0 {
		return 0
	}
	delay := initialBackoff
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// backoffUntil は取得失敗による待機が明ける時刻を返す。
// 待機が不要な場合はゼロ値を返す。
func backoffUntil(consecutiveErrors int, lastErrorAt *time.Time) time.Time {
	if consecutiveErrors <= 0 || lastErrorAt == nil {
		return time.Time{}
	}
	return lastErrorAt.Add(CalculateBackoff(consecutiveErrors))
}
