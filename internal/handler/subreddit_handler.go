package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subwatch/internal/middleware"
	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/subscription"
)

// SubredditServiceInterface はサブレディット購読ハンドラーが必要とするサービスインターフェース。
type SubredditServiceInterface interface {
	ListSubscriptions(ctx context.Context, userID string) ([]*model.Subscription, error)
	Subscribe(ctx context.Context, userID, rawName string) (*subscription.SubscribeResult, error)
	Unsubscribe(ctx context.Context, userID, rawName string) error
}

// SubredditHandler はサブレディット購読のHTTPハンドラー。
type SubredditHandler struct {
	service SubredditServiceInterface
	logger  *slog.Logger
}

// NewSubredditHandler はSubredditHandlerを生成する。
func NewSubredditHandler(service SubredditServiceInterface, logger *slog.Logger) *SubredditHandler {
	return &SubredditHandler{service: service, logger: logger}
}

type subredditResponse struct {
	ID        string    `json:"id"`
	Subreddit string    `json:"subreddit"`
	CreatedAt time.Time `json:"created_at"`
}

type subscribeRequest struct {
	Name string `json:"name"`
}

type subscribeResponse struct {
	Subreddit  string `json:"subreddit"`
	Backfilled int    `json:"backfilled"`
}

// List はユーザーの購読一覧を返す。
// GET /api/subreddits
func (h *SubredditHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	resp := make([]subredditResponse, len(subs))
	for i, sub := range subs {
		resp[i] = subredditResponse{ID: sub.ID, Subreddit: sub.Subreddit, CreatedAt: sub.CreatedAt}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Subscribe はサブレディットを購読する。
// POST /api/subreddits
func (h *SubredditHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Subscribe(r.Context(), userID, req.Name)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, subscribeResponse{
		Subreddit:  result.Subscription.Subreddit,
		Backfilled: result.Backfilled,
	})
}

// Unsubscribe は購読を解除する。
// DELETE /api/subreddits/{name}
func (h *SubredditHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unsubscribe(r.Context(), userID, chi.URLParam(r, "name")); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
