package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/subwatch/internal/middleware"
	"github.com/hitoshi/subwatch/internal/model"
)

// PipelineRunner は取り込みパイプライン1回分の実行インターフェース。
type PipelineRunner interface {
	Run(ctx context.Context) (*model.RunResult, error)
}

// CronHandler は外部スケジューラーから取り込みを起動するHTTPハンドラー。
type CronHandler struct {
	runner     PipelineRunner
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewCronHandler はCronHandlerを生成する。runTimeoutが0以下の場合は期限を設けない。
func NewCronHandler(runner PipelineRunner, runTimeout time.Duration, logger *slog.Logger) *CronHandler {
	return &CronHandler{runner: runner, runTimeout: runTimeout, logger: logger}
}

// FetchPosts は取り込みパイプラインを1回実行し、集計結果をJSONで返す。
// 他の実行がロックを保持している場合もskippedとして200を返す。
// GET|POST /cron/fetch-posts
func (h *CronHandler) FetchPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	result, err := h.runner.Run(ctx)
	if err != nil {
		h.logger.Error("取り込みパイプラインが失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewPipelineFailedError())
		return
	}

	if result.Status == model.RunStatusSkipped {
		writeJSON(w, http.StatusOK, skippedResponse{Status: string(result.Status), Reason: result.Reason})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// skippedResponse はロック競合でスキップした場合のレスポンス。
// statusとreason以外のフィールドは含めない。
type skippedResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
