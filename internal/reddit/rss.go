package reddit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/hitoshi/subwatch/internal/model"
)

// fetchRSS はサブレディットの新着RSSから指定時刻（Unix秒）より新しい投稿を取得する。
// RSSにはスコアやコメント数が含まれないため、それらは0となる。
func (c *Client) fetchRSS(ctx context.Context, subreddit string, after int64) ([]*model.ContentItem, error) {
	feedURL := fmt.Sprintf("%s/r/%s/new/.rss", strings.TrimSuffix(c.cfg.RedditBaseURL, "/"), url.PathEscape(subreddit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if ClassifyStatus(resp.StatusCode) != StatusResultOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: feedURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	return convertFeedItems(parsed.Items, subreddit, after, c.now()), nil
}

// convertFeedItems はRSSエントリを投稿に変換する。after以前のエントリは除外する。
func convertFeedItems(entries []*gofeed.Item, subreddit string, after int64, fetchedAt time.Time) []*model.ContentItem {
	items := make([]*model.ContentItem, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.GUID == "" {
			continue
		}

		var created time.Time
		switch {
		case entry.PublishedParsed != nil:
			created = entry.PublishedParsed.UTC()
		case entry.UpdatedParsed != nil:
			created = entry.UpdatedParsed.UTC()
		default:
			continue
		}
		if created.Unix() <= after {
			continue
		}

		item := &model.ContentItem{
			NativeID:  withPrefix(entry.GUID, model.PostIDPrefix),
			Kind:      model.ContentKindPost,
			Subreddit: subreddit,
			Title:     entry.Title,
			Permalink: entry.Link,
			CreatedAt: created,
			FetchedAt: fetchedAt,
		}
		if entry.Author != nil {
			item.Author = strings.TrimPrefix(entry.Author.Name, "/u/")
		}

		content := entry.Content
		if content == "" {
			content = entry.Description
		}
		if text := htmlToText(content); text != "" {
			item.Body = &text
		}

		items = append(items, item)
	}
	return items
}

// htmlToText はHTML断片からテキストノードのみを抽出し、空白を正規化する。
func htmlToText(fragment string) string {
	if fragment == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}
