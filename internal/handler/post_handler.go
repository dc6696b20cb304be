package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/subwatch/internal/middleware"
	"github.com/hitoshi/subwatch/internal/model"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	UpdateStatus(ctx context.Context, userID, postID, status string, responseText *string) (*model.UserPost, error)
	DeleteTag(ctx context.Context, userID, tagID string) error
}

// PostHandler は投稿の対応状態とタグのHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
	logger  *slog.Logger
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, logger *slog.Logger) *PostHandler {
	return &PostHandler{service: service, logger: logger}
}

type updateStatusRequest struct {
	Status       string  `json:"status"`
	ResponseText *string `json:"response_text"`
}

type postResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	ResponseText *string    `json:"response_text"`
	RespondedAt  *time.Time `json:"responded_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UpdateStatus は投稿の対応状態を変更する。
// PUT /api/posts/{id}/status
func (h *PostHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.UpdateStatus(r.Context(), userID, chi.URLParam(r, "id"), req.Status, req.ResponseText)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, postResponse{
		ID:           post.ID,
		Status:       string(post.Status),
		ResponseText: post.ResponseText,
		RespondedAt:  post.RespondedAt,
		UpdatedAt:    post.UpdatedAt,
	})
}

// DeleteTag はタグを削除する。タグ関連付けはCASCADE削除される。
// DELETE /api/tags/{id}
func (h *PostHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTag(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
