package reddit

import (
	"strings"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
)

// searchResponse は検索APIの応答形式。
type searchResponse[T any] struct {
	Data []T `json:"data"`
}

// rawSubmission は検索APIが返す投稿。
type rawSubmission struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    *string `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	IsSelf      bool    `json:"is_self"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Over18      bool    `json:"over_18"`
}

// rawComment は検索APIが返すコメント。
type rawComment struct {
	ID         string  `json:"id"`
	Body       *string `json:"body"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	ParentID   string  `json:"parent_id"`
	LinkID     string  `json:"link_id"`
	CreatedUTC float64 `json:"created_utc"`
	Score      int     `json:"score"`
	Over18     bool    `json:"over_18"`
}

// normalizeSubmission は投稿を正規化済みコンテンツに変換する。
func normalizeSubmission(raw rawSubmission, redditBaseURL string, fetchedAt time.Time) *model.ContentItem {
	item := &model.ContentItem{
		NativeID:    withPrefix(raw.ID, model.PostIDPrefix),
		Kind:        model.ContentKindPost,
		Subreddit:   NormalizeSubredditName(raw.Subreddit),
		Title:       raw.Title,
		Body:        nonEmpty(raw.Selftext),
		Author:      raw.Author,
		Permalink:   absolutePermalink(redditBaseURL, raw.Permalink),
		CreatedAt:   unixToTime(raw.CreatedUTC),
		Score:       raw.Score,
		ReplyCount:  raw.NumComments,
		IsSensitive: raw.Over18,
		FetchedAt:   fetchedAt,
	}
	if !raw.IsSelf && raw.URL != "" && raw.URL != item.Permalink {
		u := raw.URL
		item.ExternalURL = &u
	}
	return item
}

// normalizeComment はコメントを正規化済みコンテンツに変換する。
func normalizeComment(raw rawComment, parentNativeID, redditBaseURL string, fetchedAt time.Time) *model.ContentItem {
	parent := parentNativeID
	return &model.ContentItem{
		NativeID:       withPrefix(raw.ID, model.CommentIDPrefix),
		Kind:           model.ContentKindComment,
		Subreddit:      NormalizeSubredditName(raw.Subreddit),
		ParentNativeID: &parent,
		Body:           nonEmpty(raw.Body),
		Author:         raw.Author,
		Permalink:      absolutePermalink(redditBaseURL, raw.Permalink),
		CreatedAt:      unixToTime(raw.CreatedUTC),
		Score:          raw.Score,
		IsSensitive:    raw.Over18,
		FetchedAt:      fetchedAt,
	}
}

// NormalizeSubredditName は "r/" プレフィックスと前後の空白を除去し、小文字に揃える。
func NormalizeSubredditName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	if len(name) >= 2 && strings.EqualFold(name[:2], "r/") {
		name = name[2:]
	}
	return strings.ToLower(strings.TrimSuffix(name, "/"))
}

// StripPrefix はネイティブIDから種別プレフィックス（t1_ 〜 t6_）を除去する。
func StripPrefix(nativeID string) string {
	if len(nativeID) > 3 && nativeID[0] == 't' && nativeID[1] >= '1' && nativeID[1] <= '6' && nativeID[2] == '_' {
		return nativeID[3:]
	}
	return nativeID
}

func withPrefix(id, prefix string) string {
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

// nonEmpty は空文字列またはnilの本文をnilに揃える。
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

func absolutePermalink(base, permalink string) string {
	if permalink == "" || strings.HasPrefix(permalink, "http://") || strings.HasPrefix(permalink, "https://") {
		return permalink
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(permalink, "/")
}

func unixToTime(sec float64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
