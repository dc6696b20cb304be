// Package reddit は外部検索API経由でサブレディットの投稿とコメントを取得する。
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hitoshi/subwatch/internal/model"
)

const (
	defaultUserAgent        = "Subwatch/1.0 (+https://github.com/hitoshi/subwatch)"
	defaultReplyLimit       = 50
	defaultMaxResponseSize  = 5 * 1024 * 1024
	defaultBreakerThreshold = 5
	defaultBreakerTimeout   = 30 * time.Second
	defaultMaxRateLimitWait = 60 * time.Second
)

// Config は検索クライアントの設定。
type Config struct {
	BaseURL         string
	RedditBaseURL   string
	UserAgent       string
	MaxRetries      int
	RetryInterval   time.Duration
	RatePerMinute   int
	MaxResponseSize int64
	ReplyLimit      int
	RSSFallback     bool

	// BreakerThreshold は回路を開くまでの連続失敗回数。
	BreakerThreshold uint32
	// BreakerTimeout は回路を開いてから半開状態に移るまでの時間。
	BreakerTimeout time.Duration
	// MaxRateLimitWait はレート制限ヘッダーによる待機の上限。
	MaxRateLimitWait time.Duration
}

// Recorder は検索APIへのリクエスト結果を記録するインターフェース。
type Recorder interface {
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordHTTPStatus(int)             {}
func (nopRecorder) RecordFetchLatency(time.Duration) {}

// Client は検索APIクライアント。
// リクエストはレート制限で間隔を空け、サーキットブレーカーを経由し、
// 5xxのみ指数バックオフで再試行する。
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	pauseUntil time.Time
}

// NewClient は検索クライアントを生成する。
// httpClientには本番ではSSRFガード済みのクライアントを渡す。
func NewClient(httpClient *http.Client, cfg Config, recorder Recorder, logger *slog.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.ReplyLimit <= 0 {
		cfg.ReplyLimit = defaultReplyLimit
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaultMaxResponseSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = defaultBreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}
	if cfg.MaxRateLimitWait <= 0 {
		cfg.MaxRateLimitWait = defaultMaxRateLimitWait
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60.0)
	}

	c := &Client{
		httpClient: httpClient,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
	}

	threshold := cfg.BreakerThreshold
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "search-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return c
}

// FetchItems は各サブレディットの指定時刻（Unix秒）より新しい投稿を取得する。
// サブレディットは名前順に処理され、失敗したサブレディットはログに記録して0件として扱う。
func (c *Client) FetchItems(ctx context.Context, after map[string]int64) []*model.ContentItem {
	subreddits := make([]string, 0, len(after))
	for sub := range after {
		subreddits = append(subreddits, sub)
	}
	sort.Strings(subreddits)

	var items []*model.ContentItem
	for _, sub := range subreddits {
		fetched, err := c.FetchSource(ctx, sub, after[sub])
		if err != nil {
			c.logger.Error("サブレディットの取得に失敗しました",
				slog.String("subreddit", sub),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, fetched...)
	}
	return items
}

// FetchSource は1つのサブレディットの指定時刻（Unix秒）より新しい投稿を新しい順に取得する。
func (c *Client) FetchSource(ctx context.Context, subreddit string, after int64) ([]*model.ContentItem, error) {
	items, err := c.searchSubmissions(ctx, subreddit, url.Values{
		"after": {strconv.FormatInt(after, 10)},
		"sort":  {"desc"},
		"limit": {"auto"},
	})
	if err == nil {
		return items, nil
	}

	if c.cfg.RSSFallback && c.shouldFallback(ctx, err) {
		c.logger.Warn("検索APIが利用できないためRSSで取得します",
			slog.String("subreddit", subreddit),
			slog.String("error", err.Error()),
		)
		fallback, rssErr := c.fetchRSS(ctx, subreddit, after)
		if rssErr == nil {
			return fallback, nil
		}
		c.logger.Error("RSSでの取得に失敗しました",
			slog.String("subreddit", subreddit),
			slog.String("error", rssErr.Error()),
		)
	}
	return nil, err
}

// FetchReplies は投稿への直接の返信コメントを取得する。
func (c *Client) FetchReplies(ctx context.Context, nativeID string) ([]*model.ContentItem, error) {
	q := url.Values{
		"link_id": {StripPrefix(nativeID)},
		"limit":   {strconv.Itoa(c.cfg.ReplyLimit)},
	}
	body, err := c.get(ctx, c.cfg.BaseURL+"/reddit/search/comment/?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse[rawComment]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("コメント応答のデコードに失敗しました: %w", err)
	}

	fetchedAt := c.now()
	replies := make([]*model.ContentItem, 0, len(resp.Data))
	for _, raw := range resp.Data {
		if raw.ParentID != nativeID {
			continue
		}
		replies = append(replies, normalizeComment(raw, nativeID, c.cfg.RedditBaseURL, fetchedAt))
	}
	return replies, nil
}

// VerifySourceExists はサブレディットに投稿が1件以上あるかを確認する。
// 検索APIに到達できない場合は存在するものとして扱う。
func (c *Client) VerifySourceExists(ctx context.Context, name string) bool {
	items, err := c.searchSubmissions(ctx, name, url.Values{"limit": {"1"}})
	if err != nil {
		c.logger.Warn("サブレディットの存在確認に失敗したため存在するものとして扱います",
			slog.String("subreddit", name),
			slog.String("error", err.Error()),
		)
		return true
	}
	return len(items) > 0
}

func (c *Client) searchSubmissions(ctx context.Context, subreddit string, q url.Values) ([]*model.ContentItem, error) {
	q.Set("subreddit", subreddit)
	body, err := c.get(ctx, c.cfg.BaseURL+"/reddit/search/submission/?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse[rawSubmission]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("投稿応答のデコードに失敗しました: %w", err)
	}

	fetchedAt := c.now()
	items := make([]*model.ContentItem, 0, len(resp.Data))
	for _, raw := range resp.Data {
		items = append(items, normalizeSubmission(raw, c.cfg.RedditBaseURL, fetchedAt))
	}
	return items, nil
}

// get はサーキットブレーカーを経由してGETし、5xxのみ再試行する。
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	if c.cfg.RetryInterval > 0 {
		eb.InitialInterval = c.cfg.RetryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries)), ctx)

	op := func() ([]byte, error) {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, rawURL)
		})
		if err != nil {
			if IsRetryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return body, nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("検索APIへのリクエストを再試行します",
			slog.String("url", rawURL),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	return backoff.RetryNotifyWithData(op, policy, notify)
}

// do は1回のHTTPリクエストを実行する。
func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.waitTurn(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	c.recorder.RecordHTTPStatus(resp.StatusCode)
	c.recorder.RecordFetchLatency(time.Since(start))
	c.observeRateLimit(resp.Header)

	if ClassifyStatus(resp.StatusCode) != StatusResultOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, nil
}

// shouldFallback は検索APIの失敗がRSSでの代替取得に値するかを判定する。
// 4xxと呼び出し元のキャンセルは代替しない。
func (c *Client) shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil || isClientError(err) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryable(err)
	}
	return true
}
