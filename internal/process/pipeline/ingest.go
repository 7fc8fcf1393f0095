package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
	"github.com/iJKos/TelegramHelper/internal/process/dedup"
	db "github.com/iJKos/TelegramHelper/internal/storage"
)

// ingest reads every channel of the source folder for the window and
// stores the messages not seen before. Returns the number of new items.
func (p *Pipeline) ingest(ctx context.Context, session ReaderSession, from, to time.Time) (int, error) {
	channels, err := session.FolderChannels(ctx, p.cfg.SourceFolderName)
	if err != nil {
		return 0, fmt.Errorf("list folder channels: %w", err)
	}

	var batch []*domain.InboundItem

	for _, ch := range channels {
		items, err := session.FetchMessages(ctx, ch, from, to)
		if err != nil {
			p.logger.Error().Err(err).Str("channel", ch.Title).Msg("fetch messages")
			continue
		}

		if len(items) == 0 {
			continue
		}

		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.TGMessageID)
		}

		existing, err := p.deps.Repo.ExistingInboundKeys(ctx, ch.ID, ids)
		if err != nil {
			return 0, fmt.Errorf("check existing inbound: %w", err)
		}

		fresh := 0

		for i := range items {
			if _, ok := existing[items[i].TGMessageID]; ok {
				continue
			}

			it := items[i]
			batch = append(batch, &it)
			fresh++
		}

		observability.MessagesIngested.WithLabelValues(ch.Title).Add(float64(fresh))
		p.logger.Debug().Str("channel", ch.Title).Int("fetched", len(items)).Int("new", fresh).Msg("channel read")
	}

	if len(batch) == 0 {
		return 0, nil
	}

	if err := p.deps.Repo.SaveInboundBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("save inbound batch: %w", err)
	}

	return len(batch), nil
}

// clean strips urls and hashtags from the raw text of freshly read items.
func (p *Pipeline) clean(ctx context.Context) error {
	items, err := p.deps.Repo.ListInboundByState(ctx, domain.InboundStateRead, p.cfg.SummarizeBatchLimit)
	if err != nil {
		return fmt.Errorf("list inbound for cleaning: %w", err)
	}

	if len(items) == 0 {
		return nil
	}

	for i := range items {
		text, urls := CleanText(items[i].RawText)
		items[i].Text = text
		items[i].URLs = urls
		items[i].State = domain.InboundStateClean
	}

	if err := p.deps.Repo.UpdateInboundCleanedBatch(ctx, items); err != nil {
		return fmt.Errorf("store cleaned batch: %w", err)
	}

	observability.PipelineStageItems.WithLabelValues("clean", "ok").Add(float64(len(items)))

	return nil
}

// summarize asks the language model for a headline, summary and hashtags
// for every cleaned item long enough to matter.
func (p *Pipeline) summarize(ctx context.Context) error {
	items, err := p.deps.Repo.ListInboundByState(ctx, domain.InboundStateClean, p.cfg.SummarizeBatchLimit)
	if err != nil {
		return fmt.Errorf("list inbound for summarizing: %w", err)
	}

	done := 0

	for i := range items {
		if len([]rune(items[i].Text)) < p.cfg.MinSummaryLength {
			continue
		}

		summary, err := p.deps.Summarizer.Summarize(ctx, items[i].Text)
		if err != nil || summary == nil {
			if err == nil {
				err = errors.New("empty summarizer response")
			}

			p.logger.Error().Err(err).Str("id", items[i].ID).Msg("summarize item")

			if markErr := p.deps.Repo.MarkInboundError(ctx, items[i].ID, err.Error()); markErr != nil {
				p.logger.Error().Err(markErr).Str("id", items[i].ID).Msg("mark inbound error")
			}

			continue
		}

		items[i].Headline = summary.Headline
		items[i].Summary = summary.Text
		items[i].Hashtags = summary.Hashtags
		items[i].State = domain.InboundStateSummarized

		if err := p.deps.Repo.UpdateInboundSummary(ctx, items[i]); err != nil {
			return fmt.Errorf("store summary: %w", err)
		}

		done++
		if done%10 == 0 {
			p.logger.Info().Int("done", done).Int("total", len(items)).Msg("summarizing progress")
		}
	}

	observability.PipelineStageItems.WithLabelValues("summarize", "ok").Add(float64(done))

	return nil
}

// deduplicate links each summarized item either to an existing published
// story inside the dedup window or to a newly created one. Returns the
// number of items linked in this run.
func (p *Pipeline) deduplicate(ctx context.Context, to time.Time) (int, error) {
	items, err := p.deps.Repo.ListUnlinkedSummarized(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unlinked summarized: %w", err)
	}

	if len(items) == 0 {
		return 0, nil
	}

	pool, poolIndex, err := p.dedupPool(ctx, to)
	if err != nil {
		return 0, err
	}

	var (
		created  []*domain.PublishedItem
		newLinks []db.InboundLink
		dupLinks []db.InboundLink
	)

	for i := range items {
		item := items[i]

		candidate := dedup.Candidate{
			ID:       item.ID,
			Headline: item.Headline,
			Summary:  item.Summary,
		}

		dupID := ""

		// Items without hashtags carry too little signal to match against.
		if len(item.Hashtags) > 0 {
			dupID, err = p.deps.Resolver.Resolve(ctx, candidate, pool)
			if err != nil {
				p.logger.Error().Err(err).Str("id", item.ID).Msg("resolve duplicate")
				continue
			}
		}

		if dupID != "" {
			dupLinks = append(dupLinks, db.InboundLink{InboundID: item.ID, PublishedID: dupID})

			if _, fromThisBatch := poolIndex[dupID]; !fromThisBatch {
				if err := p.deps.Repo.UpdatePublishedState(ctx, dupID, domain.PublishedStateToUpdate); err != nil {
					p.logger.Error().Err(err).Str("published_id", dupID).Msg("flag published for update")
				}
			}

			continue
		}

		published := &domain.PublishedItem{
			ID:         uuid.NewString(),
			OccurredAt: item.OccurredAt,
			State:      domain.PublishedStateNew,
		}
		created = append(created, published)
		newLinks = append(newLinks, db.InboundLink{InboundID: item.ID, PublishedID: published.ID})

		// New stories join the pool so later items in the batch can merge
		// into them.
		pool = append(pool, dedup.Candidate{ID: published.ID, Headline: item.Headline, Summary: item.Summary})
		poolIndex[published.ID] = struct{}{}
	}

	if len(created) > 0 {
		if err := p.deps.Repo.InsertPublishedBatch(ctx, created); err != nil {
			return 0, fmt.Errorf("insert published batch: %w", err)
		}
	}

	if len(dupLinks) > 0 {
		if err := p.deps.Repo.LinkInboundBatch(ctx, dupLinks); err != nil {
			return 0, fmt.Errorf("link duplicates: %w", err)
		}
	}

	if len(newLinks) > 0 {
		if err := p.deps.Repo.LinkInboundBatch(ctx, newLinks); err != nil {
			return 0, fmt.Errorf("link new stories: %w", err)
		}
	}

	observability.PipelineStageItems.WithLabelValues("dedup", "ok").Add(float64(len(newLinks) + len(dupLinks)))

	return len(newLinks) + len(dupLinks), nil
}

// dedupPool loads the published stories of the dedup window together with
// the headline and summary of their primary inbound item.
func (p *Pipeline) dedupPool(ctx context.Context, to time.Time) ([]dedup.Candidate, map[string]struct{}, error) {
	from := to.AddDate(0, 0, -p.cfg.DedupWindowDays)

	window, err := p.deps.Repo.ListPublishedWindow(ctx, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("list published window: %w", err)
	}

	pool := make([]dedup.Candidate, 0, len(window))
	index := make(map[string]struct{}, len(window))

	for _, published := range window {
		linked, err := p.deps.Repo.ListInboundByPublished(ctx, published.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list inbound of published %s: %w", published.ID, err)
		}

		if len(linked) == 0 {
			continue
		}

		primary := linked[0]

		summary := primary.Summary
		if summary == "" {
			summary = primary.Text
		}

		pool = append(pool, dedup.Candidate{ID: published.ID, Headline: primary.Headline, Summary: summary})
	}

	return pool, index, nil
}
