package fanout

import (
	"strings"

	"github.com/hitoshi/subwatch/internal/model"
)

// MatchTags は本文に検索語のいずれかを含むタグのIDを返す。
// 照合は大文字小文字を区別しない部分一致で、結果はタグの入力順、重複なし。
func MatchTags(tags []*model.Tag, text string) []string {
	if len(tags) == 0 || text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	seen := make(map[string]struct{}, len(tags))
	var matched []string
	for _, tag := range tags {
		if tag == nil {
			continue
		}
		if _, ok := seen[tag.ID]; ok {
			continue
		}
		for _, term := range tag.Terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			if strings.Contains(lower, term) {
				seen[tag.ID] = struct{}{}
				matched = append(matched, tag.ID)
				break
			}
		}
	}
	return matched
}
