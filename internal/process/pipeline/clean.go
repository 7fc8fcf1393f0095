package pipeline

import (
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s\)\]\}\>\(\[\{]+`)
	urlTrailingJunk = regexp.MustCompile(`[\)\]\}\>\.,;:_]+$`)
	anyURL          = regexp.MustCompile(`https?://\S+`)
	hashtagToken    = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

// CleanText strips markdown markers, extracts URLs (trimmed of trailing
// punctuation, de-duplicated in order of appearance) and removes URLs and
// hashtag tokens from the body.
func CleanText(raw string) (string, []string) {
	text := strings.ReplaceAll(raw, "**", "")

	var urls []string

	seen := make(map[string]struct{})

	for _, u := range urlPattern.FindAllString(text, -1) {
		u = urlTrailingJunk.ReplaceAllString(u, "")
		if _, ok := seen[u]; ok {
			continue
		}

		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	text = strings.TrimSpace(anyURL.ReplaceAllString(text, ""))
	text = strings.TrimSpace(hashtagToken.ReplaceAllString(text, ""))

	return text, urls
}
