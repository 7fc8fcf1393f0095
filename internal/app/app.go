// Package app wires the application together and exposes its
// operational modes: the processing loop, the admin bot and the health
// server. Modes can run in one process or be split per deployment.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/audience"
	"github.com/iJKos/TelegramHelper/internal/bot"
	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/core/llm"
	"github.com/iJKos/TelegramHelper/internal/output/digest"
	"github.com/iJKos/TelegramHelper/internal/platform/config"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
	"github.com/iJKos/TelegramHelper/internal/platform/worker"
	"github.com/iJKos/TelegramHelper/internal/process/dedup"
	"github.com/iJKos/TelegramHelper/internal/process/pipeline"
	"github.com/iJKos/TelegramHelper/internal/render"
	"github.com/iJKos/TelegramHelper/internal/scorer"
	db "github.com/iJKos/TelegramHelper/internal/storage"
	"github.com/iJKos/TelegramHelper/internal/telegram"
)

const llmAPIKeyMock = "mock"

var (
	_ bot.Controller      = (*App)(nil)
	_ bot.Renewer         = (*App)(nil)
	_ pipeline.Repository = (*db.DB)(nil)
)

// App holds the application dependencies and provides methods to run
// different modes.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger

	status *observability.StatusTracker
	reader *telegram.Reader

	// readerMu serializes MTProto sessions: the processing loop and the
	// admin-triggered resync share one session file.
	readerMu    sync.Mutex
	loopEnabled atomic.Bool
	lastRun     atomic.Pointer[time.Time]
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	a := &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
		status:   observability.NewStatusTracker(),
		reader:   telegram.NewReader(cfg, logger),
	}
	a.loopEnabled.Store(true)

	return a
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	srv := observability.NewServer(a.database, a.cfg.HealthPort, a.status, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// RunWorker runs the processing loop mode.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info().Msg("Starting worker mode")

	p, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}

	return worker.Loop(ctx, worker.Config{
		Name:         "processor",
		PollInterval: a.cfg.ProcessInterval,
		Process: func(ctx context.Context) error {
			defer worker.RecoverPanic(a.logger, "process iteration")
			return a.processOnce(ctx, p)
		},
		PeriodicTasks: []worker.PeriodicTask{
			{
				Name:     "db-pool-stats",
				Interval: time.Minute,
				Run:      func(context.Context) { a.reportPoolStats() },
			},
		},
		OnError: func(err error) bool {
			a.logger.Error().Err(err).Msg("processing iteration failed")
			return !errors.Is(err, context.Canceled)
		},
		Logger: a.logger,
	})
}

func (a *App) reportPoolStats() {
	stat := a.database.Pool.Stat()
	observability.DBPoolTotalConns.Set(float64(stat.TotalConns()))
	observability.DBPoolIdleConns.Set(float64(stat.IdleConns()))
}

// RunBot runs the admin bot mode.
func (a *App) RunBot(ctx context.Context) error {
	a.logger.Info().Msg("Starting bot mode")

	b, err := bot.New(a.cfg, a, a, a.logger)
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("bot run: %w", err)
	}

	return nil
}

// Run runs the admin bot and the processing loop in one process.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := a.RunBot(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("admin bot stopped")
			cancel()
		}
	}()

	return a.RunWorker(ctx)
}

// StartLoop enables the processing loop. Reports whether the state changed.
func (a *App) StartLoop() bool {
	return a.loopEnabled.CompareAndSwap(false, true)
}

// StopLoop disables the processing loop after the current iteration.
func (a *App) StopLoop() bool {
	return a.loopEnabled.CompareAndSwap(true, false)
}

// Status reports the processing loop state.
func (a *App) Status() observability.RunStatus {
	return a.status.Snapshot()
}

// RenewMessages syncs the output channel back into storage: channel
// messages with no stored row are inserted with state=renew. Existing
// rows are never touched.
func (a *App) RenewMessages(ctx context.Context) (int, error) {
	a.readerMu.Lock()
	defer a.readerMu.Unlock()

	since := a.cfg.StartDate
	if since.IsZero() {
		since = time.Now().UTC().AddDate(0, 0, -a.cfg.EngagementWindowDays)
	}

	added := 0

	err := a.reader.Run(ctx, func(ctx context.Context, session *telegram.Session) error {
		ch, err := session.ResolveChannel(ctx, a.cfg.OutputChannelName)
		if err != nil {
			return fmt.Errorf("resolve output channel: %w", err)
		}

		messages, err := session.ChannelMessages(ctx, ch, since)
		if err != nil {
			return fmt.Errorf("list output messages: %w", err)
		}

		ids := make([]int64, len(messages))
		for i, msg := range messages {
			ids[i] = msg.ID
		}

		existing, err := a.database.ExistingPublishedTGMessageIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("check stored messages: %w", err)
		}

		missing := missingRenewRows(messages, existing)
		if err := a.database.InsertRenewBatch(ctx, missing); err != nil {
			return fmt.Errorf("insert renew rows: %w", err)
		}

		added = len(missing)

		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.Info().Int("added", added).Time("since", since).Msg("Message data resynced with output channel")

	return added, nil
}

// missingRenewRows builds renew rows for channel messages that have no
// stored counterpart yet.
func missingRenewRows(messages []telegram.ChannelMessage, existing map[int64]struct{}) []domain.PublishedItem {
	var rows []domain.PublishedItem

	for _, msg := range messages {
		if _, ok := existing[msg.ID]; ok {
			continue
		}

		rows = append(rows, domain.PublishedItem{
			TGMessageID: msg.ID,
			Text:        msg.Text,
			OccurredAt:  msg.Date,
			State:       domain.PublishedStateRenew,
			SentAt:      msg.Date,
		})
	}

	return rows
}

func (a *App) newPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	llmClient := a.newLLMClient()

	sc := scorer.New(a.database, llmClient, a.cfg.ScorerMinSamples, a.logger)
	if err := sc.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("scorer state load failed, starting cold")
	}

	sender, err := telegram.NewSender(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("sender init: %w", err)
	}

	deps := pipeline.Deps{
		Repo:       a.database,
		Summarizer: llmClient,
		Resolver:   dedup.NewResolver(llmClient, a.cfg.SimilarityThreshold, a.logger),
		Scorer:     sc,
		Renderer:   render.NewRenderer(render.NewMetaFetcher(nil)),
		Sender:     sender,
		Digest:     digest.New(a.cfg, a.database, sender, a.logger),
		Audience:   audience.NewCache(a.cfg.Location),
		Status:     a.status,
	}

	return pipeline.New(a.cfg, deps, a.logger), nil
}

func (a *App) newLLMClient() llm.Client {
	if a.cfg.LLMAPIKey == "" || a.cfg.LLMAPIKey == llmAPIKeyMock {
		a.logger.Warn().Msg("LLM API key not configured, using mock client")
		return llm.NewMock()
	}

	return llm.NewOpenAI(a.cfg, a.logger)
}

// processOnce runs one full pipeline iteration over the next time window.
func (a *App) processOnce(ctx context.Context, p *pipeline.Pipeline) error {
	if !a.loopEnabled.Load() {
		return nil
	}

	a.readerMu.Lock()
	defer a.readerMu.Unlock()

	startedAt := time.Now().UTC()

	a.status.SetRunning(true)
	defer a.status.SetRunning(false)

	from, to, err := a.nextWindow(ctx, startedAt)
	if err != nil {
		return err
	}

	if !from.Before(to) {
		return nil
	}

	err = a.reader.Run(ctx, func(ctx context.Context, session *telegram.Session) error {
		_, runErr := p.Run(ctx, session, from, to)
		return runErr
	})
	if err != nil {
		return fmt.Errorf("process window [%s, %s): %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
	}

	a.lastRun.Store(&to)
	a.status.SetRunInfo(to, startedAt, a.cfg.ProcessInterval)

	return nil
}

// nextWindow picks the window to process: from the end of the previous
// run (or the newest stored message, or the configured start date) up to
// now, capped at the maximum window size.
func (a *App) nextWindow(ctx context.Context, now time.Time) (time.Time, time.Time, error) {
	var from time.Time

	if prev := a.lastRun.Load(); prev != nil {
		from = *prev
	}

	if from.IsZero() {
		stored, err := a.database.MaxInboundOccurredAt(ctx)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("read last message time: %w", err)
		}

		from = stored
	}

	if from.IsZero() {
		from = a.cfg.StartDate
	}

	if from.IsZero() {
		from = now.Add(-a.cfg.MaxWindow)
	}

	to := now
	if to.Sub(from) > a.cfg.MaxWindow {
		to = from.Add(a.cfg.MaxWindow)
	}

	return from, to, nil
}
