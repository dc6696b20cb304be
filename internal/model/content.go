// Package model はドメインモデルを定義する。
package model

import "time"

// ContentKind はコンテンツ種別（投稿/コメント）を表す。
type ContentKind string

const (
	// ContentKindPost はサブレディットへの投稿。ネイティブIDは "t3_" で始まる。
	ContentKindPost ContentKind = "post"
	// ContentKindComment は投稿へのコメント。ネイティブIDは "t1_" で始まる。
	ContentKindComment ContentKind = "comment"
)

// ネイティブIDの種別プレフィックス
const (
	PostIDPrefix    = "t3_"
	CommentIDPrefix = "t1_"
)

// ContentItem は全テナントで共有される正規化済みコンテンツを表す。
// NativeIDはシステム全体で一意であり、最初に保存された内容が保持される。
type ContentItem struct {
	ID             string
	NativeID       string
	Kind           ContentKind
	Subreddit      string
	ParentNativeID *string // コメントの場合のみ親投稿のネイティブID
	Title          string
	Body           *string // 空文字の本文はnilとして扱う
	Author         string
	Permalink      string
	ExternalURL    *string
	CreatedAt      time.Time // コンテンツ自体の作成日時（ウォーターマークの基準）
	Score          int
	ReplyCount     int
	IsSensitive    bool
	FetchedAt      time.Time
}

// MatchText はタグ照合に使うテキスト（タイトル + " " + 本文）を返す。
func (c *ContentItem) MatchText() string {
	if c.Body == nil {
		return c.Title + " "
	}
	return c.Title + " " + *c.Body
}

// IsPost は投稿であればtrueを返す。
func (c *ContentItem) IsPost() bool {
	return c.Kind == ContentKindPost
}

// InsertResult は重複無視INSERTの結果を表す。
// 挿入に成功した場合はInsertedに保存済みの行が入り、
// 既存行と衝突した場合はConflictがtrueになる。
type InsertResult struct {
	Inserted *ContentItem
	Conflict bool
}
