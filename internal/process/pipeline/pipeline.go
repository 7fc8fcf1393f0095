// Package pipeline orchestrates one processing run: ingest, clean,
// summarize, deduplicate, render, score, publish, measure engagement,
// retrain and digest. Failures inside a stage are logged and do not abort
// the stages after it.
package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/audience"
	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/core/llm"
	"github.com/iJKos/TelegramHelper/internal/platform/config"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
	"github.com/iJKos/TelegramHelper/internal/process/dedup"
	"github.com/iJKos/TelegramHelper/internal/scorer"
	db "github.com/iJKos/TelegramHelper/internal/storage"
)

// ErrRunInProgress indicates a pipeline run is already active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Repository is the storage surface the pipeline depends on.
type Repository interface {
	ExistingInboundKeys(ctx context.Context, channelID int64, messageIDs []int64) (map[int64]struct{}, error)
	SaveInboundBatch(ctx context.Context, items []*domain.InboundItem) error
	ListInboundByState(ctx context.Context, state string, limit int) ([]domain.InboundItem, error)
	ListUnlinkedSummarized(ctx context.Context) ([]domain.InboundItem, error)
	ListInboundByPublished(ctx context.Context, publishedID string) ([]domain.InboundItem, error)
	UpdateInboundCleanedBatch(ctx context.Context, items []domain.InboundItem) error
	UpdateInboundSummary(ctx context.Context, item domain.InboundItem) error
	MarkInboundError(ctx context.Context, id, errMsg string) error
	LinkInboundBatch(ctx context.Context, links []db.InboundLink) error

	InsertPublishedBatch(ctx context.Context, items []*domain.PublishedItem) error
	ListPublishedByStates(ctx context.Context, states []string) ([]domain.PublishedItem, error)
	ListPublishedWindow(ctx context.Context, from, to time.Time) ([]domain.PublishedItem, error)
	ListSentWithin(ctx context.Context, from, to time.Time) ([]domain.PublishedItem, error)
	ListTrainingCandidates(ctx context.Context) ([]domain.PublishedItem, error)
	UpdatePublishedState(ctx context.Context, id, state string) error
	UpdatePublishedText(ctx context.Context, id, text, state string) error
	SetPredictionScore(ctx context.Context, id string, score float64) error
	SetBotReaction(ctx context.Context, id, emoji string) error
	MarkPublishedSent(ctx context.Context, id string, tgMessageID int64, sentAt time.Time) error
	MarkPublishedError(ctx context.Context, id, errMsg string) error
	UpdateEngagement(ctx context.Context, id string, count int, normalized float64) error
}

// ReaderSession reads source channels through an authenticated user
// session.
type ReaderSession interface {
	FolderChannels(ctx context.Context, folderName string) ([]domain.ChannelInfo, error)
	ResolveChannel(ctx context.Context, username string) (domain.ChannelInfo, error)
	FetchMessages(ctx context.Context, ch domain.ChannelInfo, from, to time.Time) ([]domain.InboundItem, error)
	AudienceSize(ctx context.Context, ch domain.ChannelInfo) (int, error)
	Reactions(ctx context.Context, ch domain.ChannelInfo, messageID int64) ([]domain.Reaction, error)
}

// Sender publishes to the output channel.
type Sender interface {
	Send(text string) (int64, error)
	Edit(messageID int64, text string) error
	SetReaction(messageID int64, emoji string) error
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (*llm.Summary, error)
}

type Deduper interface {
	Resolve(ctx context.Context, candidate dedup.Candidate, pool []dedup.Candidate) (string, error)
}

type RelevanceScorer interface {
	SampleCount() int
	Predict(ctx context.Context, in scorer.Input) (float64, error)
	Train(ctx context.Context, examples []scorer.Example) error
}

type Renderer interface {
	Message(ctx context.Context, primary domain.InboundItem, linked []domain.InboundItem) string
}

type DigestPoster interface {
	Post(ctx context.Context, from, to time.Time) (bool, error)
}

// Deps bundles the pipeline collaborators.
type Deps struct {
	Repo       Repository
	Summarizer Summarizer
	Resolver   Deduper
	Scorer     RelevanceScorer
	Renderer   Renderer
	Sender     Sender
	Digest     DigestPoster
	Audience   *audience.Cache
	Status     *observability.StatusTracker
}

type Pipeline struct {
	cfg    *config.Config
	deps   Deps
	logger *zerolog.Logger

	running atomic.Bool

	// Injectable for deterministic tests.
	randFloat func() float64
	now       func() time.Time
}

func New(cfg *config.Config, deps Deps, logger *zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		randFloat: rand.Float64,
		now:       time.Now,
	}
}

// Run executes all stages for the window [from, to). Only one run may be
// active at a time.
func (p *Pipeline) Run(ctx context.Context, session ReaderSession, from, to time.Time) (domain.FunnelStats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return domain.FunnelStats{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	start := p.now()

	p.logger.Info().Time("from", from).Time("to", to).Msg("Starting pipeline run")

	var funnel domain.FunnelStats

	p.step("Step 1: Reading")

	read, err := p.ingest(ctx, session, from, to)
	if err != nil {
		p.stageFailed(ctx, "ingest", err)
	}

	funnel.Read = read

	p.step("Step 2: Cleaning")

	if err := p.clean(ctx); err != nil {
		p.stageFailed(ctx, "clean", err)
	}

	p.step("Step 3: Summarizing")

	if err := p.summarize(ctx); err != nil {
		p.stageFailed(ctx, "summarize", err)
	}

	p.step("Step 4: Deduplicating")

	linked, err := p.deduplicate(ctx, to)
	if err != nil {
		p.stageFailed(ctx, "dedup", err)
	}

	funnel.Sent = linked

	p.step("Step 5: Rendering")

	if err := p.renderAndGate(ctx); err != nil {
		p.stageFailed(ctx, "render", err)
	}

	p.step("Step 5.5: Pre-scoring")

	if err := p.preScore(ctx, session); err != nil {
		p.stageFailed(ctx, "prescore", err)
	}

	p.step("Step 6: Sending")

	toSend, err := p.publish(ctx)
	if err != nil {
		p.stageFailed(ctx, "publish", err)
	}

	funnel.ToSend = toSend

	p.step("Step 6.5: Reactions")

	if err := p.applyBotReactions(ctx, session); err != nil {
		p.stageFailed(ctx, "bot_reaction", err)
	}

	p.step("Step 7: Engagement")

	fullRefresh, err := p.measureEngagement(ctx, session, from, to)
	if err != nil {
		p.stageFailed(ctx, "engagement", err)
	}

	p.step("Step 7.5: Training")

	if fullRefresh || p.deps.Scorer.SampleCount() == 0 {
		if err := p.retrain(ctx, session); err != nil {
			p.stageFailed(ctx, "retrain", err)
		}
	}

	p.step("Step 8: Digest")

	if err := p.postDigest(ctx, from, to); err != nil {
		p.stageFailed(ctx, "digest", err)
	}

	p.reportFunnel(funnel)
	observability.PipelineRunDurationSeconds.Observe(p.now().Sub(start).Seconds())

	p.logger.Info().
		Int("read", funnel.Read).
		Int("sent", funnel.Sent).
		Int("to_send", funnel.ToSend).
		Dur("duration", p.now().Sub(start)).
		Msg("Pipeline run complete")

	return funnel, ctx.Err()
}

func (p *Pipeline) step(name string) {
	if p.deps.Status != nil {
		p.deps.Status.SetStep(name)
	}

	p.logger.Info().Msg(name)
}

func (p *Pipeline) stageFailed(ctx context.Context, stage string, err error) {
	observability.PipelineStageItems.WithLabelValues(stage, "error").Inc()
	p.logger.Error().Err(err).Str("stage", stage).Msg("pipeline stage failed")

	if ctx.Err() != nil {
		p.logger.Warn().Msg("run context cancelled, remaining stages will no-op")
	}
}

func (p *Pipeline) reportFunnel(funnel domain.FunnelStats) {
	observability.FunnelRead.Set(float64(funnel.Read))
	observability.FunnelSent.Set(float64(funnel.Sent))
	observability.FunnelToSend.Set(float64(funnel.ToSend))

	if p.deps.Status != nil {
		p.deps.Status.SetFunnel(funnel.String())
	}
}
