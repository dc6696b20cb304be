// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, subreddit, post, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSubreddit      = "INVALID_SUBREDDIT"
	ErrCodeSubredditNotFound     = "SUBREDDIT_NOT_FOUND"
	ErrCodeDuplicateSubscription = "DUPLICATE_SUBSCRIPTION"
	ErrCodeSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	ErrCodePostNotFound          = "POST_NOT_FOUND"
	ErrCodeInvalidWorkflowStatus = "INVALID_WORKFLOW_STATUS"
	ErrCodeTagNotFound           = "TAG_NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodePipelineFailed        = "PIPELINE_FAILED"
)

// NewInvalidSubredditError はサブレディット名が不正な場合のエラーを生成する。
func NewInvalidSubredditError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSubreddit,
		Message:  fmt.Sprintf("無効なサブレディット名です: %s", name),
		Category: "validation",
		Action:   "サブレディット名は英数字とアンダースコアのみ、2〜21文字で指定してください。",
	}
}

// NewSubredditNotFoundError はサブレディットが存在しない場合のエラーを生成する。
func NewSubredditNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeSubredditNotFound,
		Message:  fmt.Sprintf("サブレディットが見つかりません: r/%s", name),
		Category: "subreddit",
		Action:   "サブレディット名の綴りを確認してください。",
	}
}

// NewDuplicateSubscriptionError は既に購読済みのサブレディットを再度登録しようとした場合のエラーを生成する。
func NewDuplicateSubscriptionError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSubscription,
		Message:  "このサブレディットは既に購読しています。",
		Category: "subreddit",
		Action:   "購読一覧から該当サブレディットを確認してください。",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: r/%s", name),
		Category: "subreddit",
		Action:   "購読一覧を再読み込みしてください。",
	}
}

// NewPostNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "post",
		Action:   "投稿IDを確認してください。",
	}
}

// NewInvalidWorkflowStatusError は未知の対応状態が指定された場合のエラーを生成する。
func NewInvalidWorkflowStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWorkflowStatus,
		Message:  fmt.Sprintf("無効な対応状態です: %s", status),
		Category: "validation",
		Action:   "状態には new、ignored、done のいずれかを指定してください。",
	}
}

// NewTagNotFoundError はタグが見つからない場合のエラーを生成する。
func NewTagNotFoundError(tagID string) *APIError {
	return &APIError{
		Code:     ErrCodeTagNotFound,
		Message:  fmt.Sprintf("指定されたタグが見つかりません: %s", tagID),
		Category: "post",
		Action:   "タグ一覧を再読み込みしてください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewPipelineFailedError は取り込みパイプラインが異常終了した場合のエラーを生成する。
func NewPipelineFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePipelineFailed,
		Message:  "投稿の取り込み処理に失敗しました。",
		Category: "system",
		Action:   "次回のスケジュール実行で自動的に再試行されます。",
	}
}
