// Package digest renders and posts the daily top-N digest to the output
// channel.
package digest

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/platform/config"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
	"github.com/iJKos/TelegramHelper/internal/telegram"
)

const fallbackHeadline = "Без заголовка"

type Repository interface {
	TopByNormalizedScore(ctx context.Context, from, to time.Time, limit int) ([]domain.PublishedItem, error)
	ListInboundByPublished(ctx context.Context, publishedID string) ([]domain.InboundItem, error)
}

type Sender interface {
	SendDigest(text string) (int64, error)
	Pin(messageID int64) error
}

type Digest struct {
	cfg    *config.Config
	repo   Repository
	sender Sender
	logger *zerolog.Logger
}

func New(cfg *config.Config, repo Repository, sender Sender, logger *zerolog.Logger) *Digest {
	return &Digest{cfg: cfg, repo: repo, sender: sender, logger: logger}
}

// Post sends the digest for [from, to] and pins it. It reports whether a
// digest was actually posted; an empty period posts nothing.
func (d *Digest) Post(ctx context.Context, from, to time.Time) (bool, error) {
	top, err := d.repo.TopByNormalizedScore(ctx, from, to, d.cfg.DigestTopN)
	if err != nil {
		observability.DigestsPosted.WithLabelValues("error").Inc()

		return false, fmt.Errorf("load top messages: %w", err)
	}

	if len(top) == 0 {
		d.logger.Info().Time("from", from).Time("to", to).Msg("No messages for digest")

		return false, nil
	}

	text := d.renderText(ctx, from, top)

	messageID, err := d.sender.SendDigest(text)
	if err != nil {
		observability.DigestsPosted.WithLabelValues("error").Inc()

		return false, fmt.Errorf("send digest: %w", err)
	}

	observability.DigestsPosted.WithLabelValues("ok").Inc()
	d.logger.Info().Int64("message_id", messageID).Time("day", from).Msg("Daily digest sent")

	// Pin failures are logged, not fatal.
	if err := d.sender.Pin(messageID); err != nil {
		d.logger.Warn().Err(err).Int64("message_id", messageID).Msg("failed to pin digest")
	}

	return true, nil
}

func (d *Digest) renderText(ctx context.Context, day time.Time, top []domain.PublishedItem) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📰 Дайджест за %s\n\n", day.Format("02.01.2006"))

	for i, item := range top {
		primary := d.primaryInbound(ctx, item.ID)

		headline := fallbackHeadline
		if primary.Headline != "" {
			headline = primary.Headline
		}

		link := "#"
		if item.TGMessageID != 0 {
			link = telegram.MessageLink(d.cfg.OutputChannelName, item.TGMessageID)
		}

		fmt.Fprintf(&b, "%d. <a href=%q>%s</a>", i+1, link, html.EscapeString(headline))

		if item.EngagementCount > 0 {
			fmt.Fprintf(&b, " 🔥 %d", item.EngagementCount)
		}

		b.WriteString("\n")

		if primary.Author != "" {
			fmt.Fprintf(&b, "📣 <a href=%q>%s</a>", telegram.ChannelLink(primary.Author), html.EscapeString(primary.Author))

			if tags := tagsLine(primary.Hashtags); tags != "" {
				b.WriteString(" " + tags)
			}

			b.WriteString("\n")
		}

		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

func (d *Digest) primaryInbound(ctx context.Context, publishedID string) domain.InboundItem {
	linked, err := d.repo.ListInboundByPublished(ctx, publishedID)
	if err != nil {
		d.logger.Warn().Err(err).Str("published_id", publishedID).Msg("failed to load linked messages for digest")

		return domain.InboundItem{}
	}

	if len(linked) == 0 {
		return domain.InboundItem{}
	}

	return linked[0]
}

func tagsLine(tags []string) string {
	parts := make([]string, 0, len(tags))

	for _, tag := range tags {
		parts = append(parts, "#"+strings.TrimLeft(tag, "#"))
	}

	return strings.Join(parts, " ")
}
