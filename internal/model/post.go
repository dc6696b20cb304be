package model

import (
	"fmt"
	"time"
)

// WorkflowStatus はテナントごとの投稿の対応状態を表す。
type WorkflowStatus string

const (
	// WorkflowStatusNew は未対応の状態。ファンアウト時の初期値。
	WorkflowStatusNew WorkflowStatus = "new"
	// WorkflowStatusIgnored は対応不要とした状態。
	WorkflowStatusIgnored WorkflowStatus = "ignored"
	// WorkflowStatusDone は返信済みの状態。
	WorkflowStatusDone WorkflowStatus = "done"
)

// ParseWorkflowStatus は文字列をWorkflowStatusに変換する。
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch WorkflowStatus(s) {
	case WorkflowStatusNew, WorkflowStatusIgnored, WorkflowStatusDone:
		return WorkflowStatus(s), nil
	default:
		return "", fmt.Errorf("unknown workflow status: %q", s)
	}
}

// UserPost はテナントごとのコンテンツ可視状態（user_posts）を表す。
// (UserID, ContentItemID) の組に対して高々1行しか存在しない。
type UserPost struct {
	ID            string
	UserID        string
	ContentItemID string
	Status        WorkflowStatus
	ResponseText  *string
	RespondedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserPostWithContent はダイジェスト作成用に可視状態とコンテンツを結合したモデル。
type UserPostWithContent struct {
	UserPost
	Content ContentItem
}

// Tag はテナントのキーワードルールを表す。
// Termsのいずれかがコンテンツのテキストに含まれていればタグ付けされる。
type Tag struct {
	ID        string
	UserID    string
	Name      string
	Terms     []string
	CreatedAt time.Time
}
