package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
	"github.com/iJKos/TelegramHelper/internal/scorer"
)

// measureEngagement refreshes reaction counts for recently sent stories
// and normalizes them against channel audience sizes. Reports whether a
// full audience refresh happened this run.
func (p *Pipeline) measureEngagement(ctx context.Context, session ReaderSession, from, to time.Time) (bool, error) {
	now := p.now().UTC()

	items, err := p.deps.Repo.ListSentWithin(ctx, now.AddDate(0, 0, -p.cfg.EngagementWindowDays), now)
	if err != nil {
		return false, fmt.Errorf("list sent for engagement: %w", err)
	}

	if len(items) == 0 {
		return false, nil
	}

	outCh, err := session.ResolveChannel(ctx, p.cfg.OutputChannelName)
	if err != nil {
		return false, fmt.Errorf("resolve output channel: %w", err)
	}

	folder, err := p.folderIndex(ctx, session)
	if err != nil {
		return false, err
	}

	fullRefresh, err := p.refreshAudience(ctx, session, outCh, folder, items, from, to)
	if err != nil {
		return false, err
	}

	cache := p.deps.Audience
	outAudience, _ := cache.Get(outCh.ID)

	for _, item := range items {
		total := 0
		normalized := 0.0

		reactions, err := session.Reactions(ctx, outCh, item.TGMessageID)
		if err != nil {
			p.logger.Error().Err(err).Str("published_id", item.ID).Msg("read output reactions")
			continue
		}

		weighted := scorer.WeightedScore(reactions)
		for _, r := range reactions {
			total += r.Count
		}

		if outAudience > 0 {
			normalized += float64(weighted) / float64(outAudience)
		}

		linked, err := p.deps.Repo.ListInboundByPublished(ctx, item.ID)
		if err != nil {
			return fullRefresh, fmt.Errorf("list inbound of published %s: %w", item.ID, err)
		}

		for _, src := range linked {
			info, ok := folder[src.ChannelID]
			if !ok || src.TGMessageID == 0 {
				continue
			}

			srcReactions, err := session.Reactions(ctx, info, src.TGMessageID)
			if err != nil {
				p.logger.Error().Err(err).Int64("channel_id", src.ChannelID).Msg("read source reactions")
				continue
			}

			plain := 0
			for _, r := range srcReactions {
				plain += r.Count
			}

			total += plain

			if subs, ok := cache.Get(src.ChannelID); ok && subs > 0 {
				normalized += float64(plain) / float64(subs)
			}
		}

		normalized = math.Round(normalized*100*100) / 100

		if total == item.EngagementCount && normalized == item.NormalizedScore {
			continue
		}

		if err := p.deps.Repo.UpdateEngagement(ctx, item.ID, total, normalized); err != nil {
			return fullRefresh, fmt.Errorf("store engagement: %w", err)
		}
	}

	observability.PipelineStageItems.WithLabelValues("engagement", "ok").Add(float64(len(items)))

	return fullRefresh, nil
}

func (p *Pipeline) folderIndex(ctx context.Context, session ReaderSession) (map[int64]domain.ChannelInfo, error) {
	channels, err := session.FolderChannels(ctx, p.cfg.SourceFolderName)
	if err != nil {
		return nil, fmt.Errorf("list folder channels: %w", err)
	}

	index := make(map[int64]domain.ChannelInfo, len(channels))
	for _, ch := range channels {
		index[ch.ID] = ch
	}

	return index, nil
}

// refreshAudience fills the audience cache. Once per calendar day every
// size is refetched, between those refreshes only the channels missing
// from the cache are fetched.
func (p *Pipeline) refreshAudience(
	ctx context.Context,
	session ReaderSession,
	outCh domain.ChannelInfo,
	folder map[int64]domain.ChannelInfo,
	items []domain.PublishedItem,
	from, to time.Time,
) (bool, error) {
	cache := p.deps.Audience

	wanted := map[int64]domain.ChannelInfo{outCh.ID: outCh}

	for _, item := range items {
		linked, err := p.deps.Repo.ListInboundByPublished(ctx, item.ID)
		if err != nil {
			return false, fmt.Errorf("list inbound of published %s: %w", item.ID, err)
		}

		for _, src := range linked {
			if info, ok := folder[src.ChannelID]; ok {
				wanted[src.ChannelID] = info
			}
		}
	}

	fetch := func(info domain.ChannelInfo) {
		size, err := session.AudienceSize(ctx, info)
		if err != nil {
			p.logger.Error().Err(err).Str("channel", info.Title).Msg("fetch audience size")
			size = 0
		}

		cache.Set(info.ID, size)
	}

	if cache.ShouldRefresh(to) {
		cache.Reset()

		group, _ := errgroup.WithContext(ctx)
		group.SetLimit(p.sendLimit())

		for _, info := range wanted {
			info := info

			group.Go(func() error {
				fetch(info)
				return nil
			})
		}

		_ = group.Wait()

		cache.SetDateRange(from, to)
		observability.AudienceRefreshTotal.WithLabelValues("full").Inc()

		return true, nil
	}

	ids := make([]int64, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}

	missing := cache.MissingChannels(ids)
	for _, id := range missing {
		fetch(wanted[id])
	}

	if len(missing) > 0 {
		observability.AudienceRefreshTotal.WithLabelValues("incremental").Inc()
	}

	return false, nil
}

// retrain rebuilds the relevance model from the reactions real readers
// left on previously sent stories.
func (p *Pipeline) retrain(ctx context.Context, session ReaderSession) error {
	candidates, err := p.deps.Repo.ListTrainingCandidates(ctx)
	if err != nil {
		return fmt.Errorf("list training candidates: %w", err)
	}

	if len(candidates) == 0 {
		return nil
	}

	outCh, err := session.ResolveChannel(ctx, p.cfg.OutputChannelName)
	if err != nil {
		return fmt.Errorf("resolve output channel: %w", err)
	}

	var examples []scorer.Example

	for _, item := range candidates {
		if item.TGMessageID == 0 {
			continue
		}

		linked, err := p.deps.Repo.ListInboundByPublished(ctx, item.ID)
		if err != nil || len(linked) == 0 {
			continue
		}

		primary := linked[0]

		reactions, err := session.Reactions(ctx, outCh, item.TGMessageID)
		if err != nil {
			p.logger.Error().Err(err).Str("published_id", item.ID).Msg("read reactions for training")
			continue
		}

		detailed := reactions[:0:0]
		for _, r := range reactions {
			if r.Emoji != "" {
				detailed = append(detailed, r)
			}
		}

		if len(detailed) == 0 {
			continue
		}

		label := 0
		if scorer.WeightedScoreExcludingBot(detailed, item.BotReaction) > 0 {
			label = 1
		}

		examples = append(examples, scorer.Example{
			Input: scorer.Input{
				Headline:   primary.Headline,
				Summary:    primary.Summary,
				Hashtags:   primary.Hashtags,
				TextLength: len([]rune(primary.Text)),
				OccurredAt: primary.OccurredAt,
			},
			Label: label,
		})
	}

	// The min-samples floor guards Predict, not Train: small batches still
	// accumulate toward a warm model.
	if len(examples) == 0 {
		p.logger.Info().Msg("no labeled examples, skipping training")
		return nil
	}

	if err := p.deps.Scorer.Train(ctx, examples); err != nil {
		return fmt.Errorf("train scorer: %w", err)
	}

	observability.ScorerTrainedSamples.Set(float64(p.deps.Scorer.SampleCount()))
	p.logger.Info().Int("examples", len(examples)).Msg("scorer retrained")

	return nil
}

// postDigest posts the daily top list once the clock passes noon and
// yesterday's digest has not been posted yet.
func (p *Pipeline) postDigest(ctx context.Context, from, to time.Time) error {
	dayStart, dayEnd, ok := p.deps.Audience.ShouldSendDigest(from, to)
	if !ok {
		return nil
	}

	posted, err := p.deps.Digest.Post(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("post digest: %w", err)
	}

	if posted {
		p.deps.Audience.MarkDigestSent(dayStart)
	}

	return nil
}
