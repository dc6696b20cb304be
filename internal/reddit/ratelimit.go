package reddit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// waitTurn はレート制限ヘッダーによる待機と送信間隔の制御を行う。
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	until := c.pauseUntil
	c.mu.Unlock()

	if wait := until.Sub(c.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return c.limiter.Wait(ctx)
}

// observeRateLimit はX-Ratelimit-Remaining/X-Ratelimit-Resetを読み取り、
// 残数が0なら次のリクエストをリセットまで待たせる。
// ヘッダーが無い場合や解釈できない場合は何もしない。
func (c *Client) observeRateLimit(h http.Header) {
	remaining, ok := parseHeaderFloat(h.Get("X-Ratelimit-Remaining"))
	if !ok || remaining > 0 {
		return
	}
	reset, ok := parseHeaderFloat(h.Get("X-Ratelimit-Reset"))
	if !ok || reset <= 0 {
		return
	}

	wait := time.Duration(reset * float64(time.Second))
	if wait > c.cfg.MaxRateLimitWait {
		wait = c.cfg.MaxRateLimitWait
	}

	c.mu.Lock()
	c.pauseUntil = c.now().Add(wait)
	c.mu.Unlock()
}

func parseHeaderFloat(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
