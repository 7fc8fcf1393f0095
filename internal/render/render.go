// Package render turns a deduplicated story and its linked source
// messages into the HTML text posted to the output channel.
package render

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
)

var (
	bodyTag      = regexp.MustCompile(`(?i)</?body/?>`)
	brTag        = regexp.MustCompile(`(?i)</?br/?>`)
	tripleBreaks = regexp.MustCompile(`\n\n\n`)
)

type Renderer struct {
	namer URLNamer
}

func NewRenderer(namer URLNamer) *Renderer {
	return &Renderer{namer: namer}
}

// Message renders one published story. primary carries the summary,
// headline, hashtags and URLs; linked lists every inbound message merged
// into the story and feeds the sources block.
func (r *Renderer) Message(ctx context.Context, primary domain.InboundItem, linked []domain.InboundItem) string {
	summary := bodyTag.ReplaceAllString(primary.Summary, "")
	summary = brTag.ReplaceAllString(summary, "\n")

	for _, tag := range primary.Hashtags {
		tagExpr := regexp.MustCompile(`\s*` + regexp.QuoteMeta(tag) + `\b`)
		summary = tagExpr.ReplaceAllString(summary, "")
	}

	var b strings.Builder

	headline := html.EscapeString(primary.Headline)
	switch {
	case headline != "" && primary.PublicLink != "":
		fmt.Fprintf(&b, "<b><a href=%q>%s</a></b>\n", primary.PublicLink, headline)
	case headline != "":
		fmt.Fprintf(&b, "<b>%s</b>\n", headline)
	}

	if !primary.OccurredAt.IsZero() {
		fmt.Fprintf(&b, "<i>%s</i>\n", primary.OccurredAt.Format("2006-01-02"))
	}

	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\n")
	b.WriteString(r.urlsBlock(ctx, primary.URLs))
	b.WriteString(sourcesBlock(primary, linked))

	if block := hashtagsBlock(primary.Hashtags); block != "" {
		b.WriteString("\n" + block)
	}

	text := tripleBreaks.ReplaceAllString(b.String(), "\n")

	return strings.TrimSpace(text)
}

func (r *Renderer) urlsBlock(ctx context.Context, urls []string) string {
	switch {
	case len(urls) == 0:
		return ""
	case len(urls) == 1:
		return fmt.Sprintf("🌎  <a href=%q>Источник</a>\n", urls[0])
	}

	var b strings.Builder

	b.WriteString("🌎 Источники:\n")

	for _, u := range urls {
		if u == "" {
			continue
		}

		name := html.EscapeString(r.namer.DisplayName(ctx, u))
		fmt.Fprintf(&b, "• <a href=%q> %s </a>\n", u, name)
	}

	return b.String()
}

func sourcesBlock(primary domain.InboundItem, linked []domain.InboundItem) string {
	items := linked
	if len(items) == 0 {
		items = []domain.InboundItem{primary}
	}

	var b strings.Builder

	for _, item := range items {
		if item.Author == "" {
			continue
		}

		link := item.PublicLink
		if link == "" {
			link = "https://t.me/" + item.Author
		}

		fmt.Fprintf(&b, "📣 <a href=%q>@%s</a>\n", link, html.EscapeString(item.Author))
	}

	return b.String()
}

func hashtagsBlock(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	parts := make([]string, 0, len(tags))

	for _, tag := range tags {
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}

		parts = append(parts, tag)
	}

	return strings.Join(parts, " ")
}
