package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/subwatch/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードごとのHTTPステータス。
var statusByCode = map[string]int{
	model.ErrCodeInvalidSubreddit:      http.StatusBadRequest,
	model.ErrCodeSubredditNotFound:     http.StatusUnprocessableEntity,
	model.ErrCodeDuplicateSubscription: http.StatusConflict,
	model.ErrCodeSubscriptionNotFound:  http.StatusNotFound,
	model.ErrCodePostNotFound:          http.StatusNotFound,
	model.ErrCodeInvalidWorkflowStatus: http.StatusBadRequest,
	model.ErrCodeTagNotFound:           http.StatusNotFound,
	model.ErrCodeUnauthorized:          http.StatusUnauthorized,
	model.ErrCodePipelineFailed:        http.StatusInternalServerError,
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はサービス層のエラーをレスポンスに変換する。
// APIErrorはコードに対応するステータスで返し、それ以外はログに記録して500を返す。
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status, ok := statusByCode[apiErr.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		WriteErrorResponse(w, status, apiErr)
		return
	}

	logger.Error("リクエストの処理に失敗しました", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
