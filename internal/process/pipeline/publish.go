package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
	"github.com/iJKos/TelegramHelper/internal/scorer"
)

// renderAndGate builds the outbound message text for new and updated
// stories and decides whether each topic is worth sending at all.
func (p *Pipeline) renderAndGate(ctx context.Context) error {
	items, err := p.deps.Repo.ListPublishedByStates(ctx, []string{domain.PublishedStateNew, domain.PublishedStateToUpdate})
	if err != nil {
		return fmt.Errorf("list published for rendering: %w", err)
	}

	required := make(map[string]struct{}, len(p.cfg.RequiredHashtags))
	for _, tag := range p.cfg.RequiredHashtags {
		required[scorer.NormalizeTag(tag)] = struct{}{}
	}

	for _, item := range items {
		linked, err := p.deps.Repo.ListInboundByPublished(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("list inbound of published %s: %w", item.ID, err)
		}

		if len(linked) == 0 {
			p.logger.Warn().Str("published_id", item.ID).Msg("published item without inbound sources")

			if err := p.deps.Repo.UpdatePublishedState(ctx, item.ID, domain.PublishedStateNoSend); err != nil {
				return fmt.Errorf("mark orphan no_send: %w", err)
			}

			continue
		}

		primary := linked[0]
		text := p.deps.Renderer.Message(ctx, primary, linked)

		state := domain.PublishedStateNoSend
		if hasRequiredTag(primary.Hashtags, required) {
			state = domain.PublishedStateToSend
		}

		if err := p.deps.Repo.UpdatePublishedText(ctx, item.ID, text, state); err != nil {
			return fmt.Errorf("store rendered text: %w", err)
		}
	}

	observability.PipelineStageItems.WithLabelValues("render", "ok").Add(float64(len(items)))

	return nil
}

func hasRequiredTag(tags []string, required map[string]struct{}) bool {
	if len(required) == 0 {
		return true
	}

	for _, tag := range tags {
		if _, ok := required[scorer.NormalizeTag(tag)]; ok {
			return true
		}
	}

	return false
}

// preScore predicts the engagement of every pending story and demotes the
// clearly weak ones, letting a small random share through to keep fresh
// training signal flowing.
func (p *Pipeline) preScore(ctx context.Context, session ReaderSession) error {
	if p.deps.Scorer.SampleCount() == 0 {
		p.logger.Info().Msg("scorer has no samples, training before scoring")

		if err := p.retrain(ctx, session); err != nil {
			p.logger.Error().Err(err).Msg("bootstrap training failed, scoring with empty model")
		}
	}

	items, err := p.deps.Repo.ListPublishedByStates(ctx, []string{domain.PublishedStateToSend})
	if err != nil {
		return fmt.Errorf("list published for scoring: %w", err)
	}

	for _, item := range items {
		linked, err := p.deps.Repo.ListInboundByPublished(ctx, item.ID)
		if err != nil || len(linked) == 0 {
			continue
		}

		primary := linked[0]

		score, err := p.deps.Scorer.Predict(ctx, scorer.Input{
			Headline:   primary.Headline,
			Summary:    primary.Summary,
			Hashtags:   primary.Hashtags,
			TextLength: len([]rune(primary.Text)),
			OccurredAt: primary.OccurredAt,
		})
		if err != nil {
			p.logger.Error().Err(err).Str("published_id", item.ID).Msg("predict score")
			continue
		}

		observability.ScorerPredictions.Observe(score)

		if err := p.deps.Repo.SetPredictionScore(ctx, item.ID, score); err != nil {
			return fmt.Errorf("store prediction score: %w", err)
		}

		if score > p.cfg.ScorerNegThreshold {
			continue
		}

		if p.randFloat() < p.cfg.LowScoreSendProbability {
			p.logger.Info().Str("published_id", item.ID).Float64("score", score).Msg("low score, sending anyway for exploration")
			continue
		}

		if err := p.deps.Repo.UpdatePublishedState(ctx, item.ID, domain.PublishedStateLowScore); err != nil {
			return fmt.Errorf("demote low score item: %w", err)
		}
	}

	return nil
}

// publish sends or edits every pending story in the output channel.
// Returns the number of items that were due for sending.
func (p *Pipeline) publish(ctx context.Context) (int, error) {
	items, err := p.deps.Repo.ListPublishedByStates(ctx, []string{domain.PublishedStateToSend})
	if err != nil {
		return 0, fmt.Errorf("list published for sending: %w", err)
	}

	if len(items) == 0 {
		return 0, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.sendLimit())

	for _, item := range items {
		item := item

		group.Go(func() error {
			var (
				tgID    = item.TGMessageID
				sendErr error
			)

			if item.TGMessageID != 0 {
				sendErr = p.deps.Sender.Edit(item.TGMessageID, item.Text)
			} else {
				tgID, sendErr = p.deps.Sender.Send(item.Text)
			}

			if sendErr != nil {
				observability.MessagesPublished.WithLabelValues("error").Inc()
				p.logger.Error().Err(sendErr).Str("published_id", item.ID).Msg("send message")

				if err := p.deps.Repo.MarkPublishedError(groupCtx, item.ID, sendErr.Error()); err != nil {
					p.logger.Error().Err(err).Str("published_id", item.ID).Msg("mark published error")
				}

				return nil
			}

			observability.MessagesPublished.WithLabelValues("ok").Inc()

			if err := p.deps.Repo.MarkPublishedSent(groupCtx, item.ID, tgID, p.now().UTC()); err != nil {
				p.logger.Error().Err(err).Str("published_id", item.ID).Msg("mark published sent")
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return len(items), fmt.Errorf("send published items: %w", err)
	}

	return len(items), nil
}

func (p *Pipeline) sendLimit() int {
	if p.cfg.SendConcurrency < 1 {
		return 1
	}

	return p.cfg.SendConcurrency
}

// applyBotReactions leaves the bot's own verdict emoji on recently sent
// messages so the prediction is visible in the channel.
func (p *Pipeline) applyBotReactions(ctx context.Context, _ ReaderSession) error {
	now := p.now().UTC()

	items, err := p.deps.Repo.ListSentWithin(ctx, now.AddDate(0, 0, -p.cfg.EngagementWindowDays), now)
	if err != nil {
		return fmt.Errorf("list sent for reactions: %w", err)
	}

	for _, item := range items {
		if item.PredictionScore == nil || item.BotReaction != "" || item.TGMessageID == 0 {
			continue
		}

		emoji := scorer.ChooseBotReaction(*item.PredictionScore, p.cfg.ScorerPosThreshold, p.cfg.ScorerNegThreshold)
		if emoji == "" {
			continue
		}

		if err := p.deps.Sender.SetReaction(item.TGMessageID, emoji); err != nil {
			p.logger.Error().Err(err).Str("published_id", item.ID).Msg("set bot reaction")
			continue
		}

		if err := p.deps.Repo.SetBotReaction(ctx, item.ID, emoji); err != nil {
			return fmt.Errorf("store bot reaction: %w", err)
		}
	}

	return nil
}
