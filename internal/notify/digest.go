package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/hitoshi/subwatch/internal/model"
)

// Message は送信するメール1通。
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sanitizer はHTMLを安全な形に変換するインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// maxExcerptRunes はダイジェストに載せる本文抜粋の最大文字数。
const maxExcerptRunes = 200

const htmlDigestTemplate = `<p>{{.Total}}件の新着投稿があります。</p>
<ul>
{{- range .Items}}
<li><a href="{{.Permalink}}">{{.Title}}</a> <em>r/{{.Subreddit}}</em>{{if .Excerpt}}<p>{{.Excerpt}}</p>{{end}}</li>
{{- end}}
</ul>
{{- if .More}}
<p>ほか{{.More}}件</p>
{{- end}}
<p><a href="{{.DashboardURL}}">すべての投稿を見る</a></p>
`

const textDigestTemplate = `{{.Total}}件の新着投稿があります。
{{range .Items}}
- {{.Title}} (r/{{.Subreddit}})
  {{.Permalink}}
{{- end}}
{{if .More}}
ほか{{.More}}件
{{end}}
すべての投稿を見る: {{.DashboardURL}}
`

var (
	htmlDigest = htmltemplate.Must(htmltemplate.New("digest.html").Parse(htmlDigestTemplate))
	textDigest = texttemplate.Must(texttemplate.New("digest.txt").Parse(textDigestTemplate))
)

type digestItem struct {
	Title     string
	Subreddit string
	Permalink string
	Excerpt   string
}

type digestData struct {
	Total        int
	Items        []digestItem
	More         int
	DashboardURL string
}

// DigestBuilder は新着投稿のダイジェストメールを組み立てる。
type DigestBuilder struct {
	sanitizer Sanitizer
	baseURL   string
}

// NewDigestBuilder はDigestBuilderを生成する。baseURLはダッシュボードへのリンクに使う。
func NewDigestBuilder(sanitizer Sanitizer, baseURL string) *DigestBuilder {
	return &DigestBuilder{
		sanitizer: sanitizer,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// Build はテナント宛のダイジェストを組み立てる。
// newCountは今回の実行で新たに見えるようになった件数で、postsはその時点の未対応投稿（新しい順）。
func (b *DigestBuilder) Build(to string, newCount int, posts []*model.UserPostWithContent) (Message, error) {
	data := digestData{
		Total:        newCount,
		DashboardURL: b.baseURL + "/",
	}
	for _, p := range posts {
		title := p.Content.Title
		if title == "" {
			title = p.Content.Permalink
		}
		data.Items = append(data.Items, digestItem{
			Title:     title,
			Subreddit: p.Content.Subreddit,
			Permalink: p.Content.Permalink,
			Excerpt:   excerpt(p.Content.Body),
		})
	}
	if more := newCount - len(data.Items); more > 0 {
		data.More = more
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlDigest.Execute(&htmlBuf, data); err != nil {
		return Message{}, fmt.Errorf("HTMLダイジェストの生成に失敗しました: %w", err)
	}
	if err := textDigest.Execute(&textBuf, data); err != nil {
		return Message{}, fmt.Errorf("テキストダイジェストの生成に失敗しました: %w", err)
	}

	return Message{
		To:      to,
		Subject: fmt.Sprintf("[subwatch] %d件の新着投稿", newCount),
		HTML:    b.sanitizer.Sanitize(htmlBuf.String()),
		Text:    textBuf.String(),
	}, nil
}

func excerpt(body *string) string {
	if body == nil {
		return ""
	}
	text := strings.Join(strings.Fields(*body), " ")
	runes := []rune(text)
	if len(runes) <= maxExcerptRunes {
		return text
	}
	return string(runes[:maxExcerptRunes]) + "…"
}
