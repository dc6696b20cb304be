package reddit

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusResult はHTTPステータスコードに基づく検索APIの応答分類。
type StatusResult int

const (
	// StatusResultOK は成功（2xx）。
	StatusResultOK StatusResult = iota
	// StatusResultPermanent は再試行しないクライアントエラー（429以外の4xx）。
	StatusResultPermanent
	// StatusResultRetryable は再試行可能なエラー（429/5xx）。
	StatusResultRetryable
	// StatusResultUnknown は未知のステータスコード。
	StatusResultUnknown
)

// ClassifyStatus はHTTPステータスコードを応答分類に変換する。
func ClassifyStatus(statusCode int) StatusResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusResultOK
	case statusCode == http.StatusTooManyRequests:
		return StatusResultRetryable
	case statusCode >= 400 && statusCode < 500:
		return StatusResultPermanent
	case statusCode >= 500:
		return StatusResultRetryable
	default:
		return StatusResultUnknown
	}
}

// StatusError は検索APIが非2xxを返したことを表す。
type StatusError struct {
	StatusCode int
	URL        string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("search api returned status %d: %s", e.StatusCode, e.URL)
}

// IsRetryable はerrが再試行に値する一時的なエラーかを判定する。
// 5xxと429のみが対象で、4xxやネットワークエラーは再試行しない。
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return ClassifyStatus(se.StatusCode) == StatusResultRetryable
	}
	return false
}

// isClientError はerrが4xx応答によるものかを判定する。
// サーキットブレーカーは4xxを障害として数えない。
func isClientError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return ClassifyStatus(se.StatusCode) == StatusResultPermanent
	}
	return false
}
