package scorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
	db "github.com/iJKos/TelegramHelper/internal/storage"
)

// coldStartScore is returned until the model has seen enough samples to be
// trusted. It deliberately never triggers an automatic reaction.
const coldStartScore = 0.5

// Repository persists the model snapshot.
type Repository interface {
	LoadScorerState(ctx context.Context) (*domain.ScorerState, error)
	SaveScorerState(ctx context.Context, state *domain.ScorerState) error
}

// Embedder produces dense semantic embeddings.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Example is one labeled training observation.
type Example struct {
	Input Input
	Label int
}

// Scorer predicts a [0,1] relevance probability per item and retrains
// incrementally from engagement outcomes. Predict and Train are mutually
// exclusive.
type Scorer struct {
	mu sync.Mutex

	repo       Repository
	embedder   Embedder
	logger     *zerolog.Logger
	minSamples int

	model         *model
	knownTags     []string
	sampleCount   int
	centroid      []float32
	lastTrainedAt time.Time
}

func New(repo Repository, embedder Embedder, minSamples int, logger *zerolog.Logger) *Scorer {
	return &Scorer{
		repo:       repo,
		embedder:   embedder,
		logger:     logger,
		minSamples: minSamples,
	}
}

// Load restores the persisted snapshot. A missing snapshot leaves the scorer
// in its cold state.
func (s *Scorer) Load(ctx context.Context) error {
	state, err := s.repo.LoadScorerState(ctx)
	if errors.Is(err, db.ErrScorerStateNotFound) {
		s.logger.Info().Msg("no scorer state found, starting cold")

		return nil
	}

	if err != nil {
		return fmt.Errorf("load scorer state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.model = &model{weights: state.Weights, bias: state.Bias}
	s.knownTags = state.KnownTags
	s.sampleCount = state.SampleCount
	s.centroid = state.Centroid
	s.lastTrainedAt = state.LastTrainedAt

	observability.ScorerTrainedSamples.Set(float64(s.sampleCount))
	s.logger.Info().
		Int("sample_count", s.sampleCount).
		Int("dimensions", len(state.Weights)).
		Int("known_tags", len(state.KnownTags)).
		Msg("scorer state restored")

	return nil
}

// SampleCount returns the number of training samples seen so far.
func (s *Scorer) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sampleCount
}

// Predict returns the relevance probability for an item, or exactly 0.5
// while the model is cold.
func (s *Scorer) Predict(ctx context.Context, in Input) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model == nil || s.sampleCount < s.minSamples {
		return coldStartScore, nil
	}

	embedding, err := s.embedder.GetEmbedding(ctx, in.EmbeddingText())
	if err != nil {
		return 0, fmt.Errorf("embed item: %w", err)
	}

	vec := buildVector(in, embedding, s.centroid, s.knownTags)
	score := s.model.predict(vec)

	observability.ScorerPredictions.Observe(score)

	return score, nil
}

// Train fits the model on a labeled batch and persists the updated snapshot.
// New hashtags are appended to the vocabulary, never reordered, and weights
// for previously learned positions are preserved when dimensions grow.
func (s *Scorer) Train(ctx context.Context, examples []Example) error {
	if len(examples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	embeddings := make([][]float32, len(examples))

	for i, ex := range examples {
		embedding, err := s.embedder.GetEmbedding(ctx, ex.Input.EmbeddingText())
		if err != nil {
			return fmt.Errorf("embed training example: %w", err)
		}

		embeddings[i] = embedding
	}

	s.extendKnownTags(examples)
	s.centroid = meanEmbedding(embeddings)

	batch := make([][]float64, len(examples))
	labels := make([]float64, len(examples))

	for i, ex := range examples {
		batch[i] = buildVector(ex.Input, embeddings[i], s.centroid, s.knownTags)
		labels[i] = float64(ex.Label)
	}

	dim := len(batch[0])

	if s.model == nil {
		s.model = newModel(dim)
	} else {
		s.model.grow(dim)
	}

	s.model.fit(batch, labels)
	s.sampleCount += len(examples)
	s.lastTrainedAt = time.Now().UTC()

	observability.ScorerTrainedSamples.Set(float64(s.sampleCount))

	if err := s.persistLocked(ctx); err != nil {
		return err
	}

	s.logger.Info().
		Int("batch", len(examples)).
		Int("sample_count", s.sampleCount).
		Int("dimensions", dim).
		Msg("scorer trained")

	return nil
}

// extendKnownTags appends unseen normalized tags at the end of the
// vocabulary to preserve positional alignment with learned weights.
func (s *Scorer) extendKnownTags(examples []Example) {
	seen := make(map[string]struct{}, len(s.knownTags))
	for _, tag := range s.knownTags {
		seen[tag] = struct{}{}
	}

	for _, ex := range examples {
		for _, tag := range ex.Input.Hashtags {
			normalized := NormalizeTag(tag)
			if normalized == "" {
				continue
			}

			if _, ok := seen[normalized]; !ok {
				seen[normalized] = struct{}{}
				s.knownTags = append(s.knownTags, normalized)
			}
		}
	}
}

func (s *Scorer) persistLocked(ctx context.Context) error {
	state := &domain.ScorerState{
		Weights:       s.model.weights,
		Bias:          s.model.bias,
		KnownTags:     s.knownTags,
		SampleCount:   s.sampleCount,
		Centroid:      s.centroid,
		LastTrainedAt: s.lastTrainedAt,
	}

	if err := s.repo.SaveScorerState(ctx, state); err != nil {
		return fmt.Errorf("persist scorer state: %w", err)
	}

	return nil
}

// meanEmbedding replaces the centroid with the mean over the whole batch.
func meanEmbedding(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil
	}

	mean := make([]float32, len(embeddings[0]))
	count := 0

	for _, embedding := range embeddings {
		if len(embedding) != len(mean) {
			continue
		}

		for i, v := range embedding {
			mean[i] += v
		}

		count++
	}

	if count == 0 {
		return nil
	}

	for i := range mean {
		mean[i] /= float32(count)
	}

	return mean
}
