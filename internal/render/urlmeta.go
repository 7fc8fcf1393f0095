package render

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const (
	fetchTimeout         = 5 * time.Second
	maxDescriptionLength = 100
	metaUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

var schemePrefix = regexp.MustCompile(`^https?://(www\.)?`)

// URLNamer resolves a human-readable display name for a URL.
type URLNamer interface {
	DisplayName(ctx context.Context, pageURL string) string
}

// MetaFetcher resolves display names from page metadata: og:description
// when short enough, then og:title or <title>, then the bare domain.
type MetaFetcher struct {
	client *http.Client
}

func NewMetaFetcher(client *http.Client) *MetaFetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	return &MetaFetcher{client: client}
}

// DisplayName never fails: any fetch or parse error falls back to the domain.
func (f *MetaFetcher) DisplayName(ctx context.Context, pageURL string) string {
	description, title, err := f.pageMetadata(ctx, pageURL)
	if err == nil {
		if description != "" && len([]rune(description)) <= maxDescriptionLength {
			return description
		}

		if title != "" {
			return title
		}
	}

	return domainOf(pageURL)
}

func (f *MetaFetcher) pageMetadata(ctx context.Context, pageURL string) (description, title string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", metaUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", "", fmt.Errorf("decode charset: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	for _, name := range []string{"og:description", "description", "twitter:description"} {
		if content := metaContent(doc, name); content != "" {
			description = content
			break
		}
	}

	title = metaContent(doc, "og:title")
	if title == "" {
		title = metaContent(doc, "title")
	}

	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	return description, title, nil
}

func metaContent(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q]`, name))
	if sel.Length() == 0 {
		sel = doc.Find(fmt.Sprintf(`meta[name=%q]`, name))
	}

	content, _ := sel.First().Attr("content")

	return strings.TrimSpace(content)
}

func domainOf(pageURL string) string {
	trimmed := schemePrefix.ReplaceAllString(pageURL, "")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	return trimmed
}
