package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
	db "github.com/iJKos/TelegramHelper/internal/storage"
)

// mockRepository keeps the scorer snapshot in memory.
type mockRepository struct {
	state *domain.ScorerState
	saves int
}

func (m *mockRepository) LoadScorerState(_ context.Context) (*domain.ScorerState, error) {
	if m.state == nil {
		return nil, db.ErrScorerStateNotFound
	}

	return m.state, nil
}

func (m *mockRepository) SaveScorerState(_ context.Context, state *domain.ScorerState) error {
	m.state = state
	m.saves++

	return nil
}

// mockEmbedder returns a fixed-size vector derived from the text length.
type mockEmbedder struct {
	calls int
}

func (m *mockEmbedder) GetEmbedding(_ context.Context, text string) ([]float32, error) {
	m.calls++

	vec := make([]float32, 4)
	for i := range vec {
		vec[i] = float32((len(text)+i)%7) / 7
	}

	return vec, nil
}

func newTestScorer(minSamples int) (*Scorer, *mockRepository, *mockEmbedder) {
	repo := &mockRepository{}
	embedder := &mockEmbedder{}
	logger := zerolog.Nop()

	return New(repo, embedder, minSamples, &logger), repo, embedder
}

func sampleInput(tag string) Input {
	return Input{
		Headline:   "Rates raised",
		Summary:    "The central bank raised rates. Markets reacted!",
		Hashtags:   []string{tag},
		OccurredAt: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
	}
}

func trainingBatch(n int, tag string) []Example {
	batch := make([]Example, n)
	for i := range batch {
		label := i % 2
		batch[i] = Example{Input: sampleInput(tag), Label: label}
	}

	return batch
}

func TestPredictColdStartIsExactlyHalf(t *testing.T) {
	s, _, embedder := newTestScorer(30)

	score, err := s.Predict(context.Background(), sampleInput("#news"))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if score != 0.5 {
		t.Errorf("cold start Predict() = %v, want exactly 0.5", score)
	}

	if embedder.calls != 0 {
		t.Errorf("embedder called %d times during cold start, want 0", embedder.calls)
	}
}

func TestPredictStaysColdBelowMinSamples(t *testing.T) {
	s, _, _ := newTestScorer(30)

	if err := s.Train(context.Background(), trainingBatch(10, "#news")); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	score, err := s.Predict(context.Background(), sampleInput("#news"))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if score != 0.5 {
		t.Errorf("Predict() with 10 < 30 samples = %v, want exactly 0.5", score)
	}
}

func TestTrainWarmsScorer(t *testing.T) {
	s, repo, _ := newTestScorer(4)

	if err := s.Train(context.Background(), trainingBatch(4, "#news")); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	if s.SampleCount() != 4 {
		t.Errorf("SampleCount() = %d, want 4", s.SampleCount())
	}

	if repo.saves != 1 {
		t.Errorf("snapshot saved %d times, want 1", repo.saves)
	}

	score, err := s.Predict(context.Background(), sampleInput("#news"))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	if score < 0 || score > 1 {
		t.Errorf("Predict() = %v, want value in [0,1]", score)
	}
}

func TestTrainAppendsNewTagsAtEnd(t *testing.T) {
	s, _, _ := newTestScorer(1)

	if err := s.Train(context.Background(), trainingBatch(2, "#news")); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	if err := s.Train(context.Background(), trainingBatch(2, "#tech")); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	if len(s.knownTags) != 2 {
		t.Fatalf("knownTags = %v, want 2 entries", s.knownTags)
	}

	if s.knownTags[0] != "news" || s.knownTags[1] != "tech" {
		t.Errorf("knownTags = %v, want [news tech] in insertion order", s.knownTags)
	}
}

func TestModelGrowPreservesPredictions(t *testing.T) {
	m := newModel(3)
	m.weights = []float64{0.4, -0.2, 0.1}
	m.bias = 0.05

	x := []float64{1, 0.5, -1}
	before := m.predict(x)

	m.grow(5)

	after := m.predict(x)
	if before != after {
		t.Errorf("predict changed after grow: %v != %v", before, after)
	}

	if len(m.weights) != 5 || m.weights[3] != 0 || m.weights[4] != 0 {
		t.Errorf("grow() weights = %v, want zero-padded to 5", m.weights)
	}
}

func TestDimensionGrowthDoesNotCorruptOldWeights(t *testing.T) {
	s, _, _ := newTestScorer(1)

	if err := s.Train(context.Background(), trainingBatch(2, "#news")); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	oldDim := len(s.model.weights)
	oldWeights := make([]float64, oldDim)
	copy(oldWeights, s.model.weights)

	// Grow the vocabulary without fitting: old positions must be untouched.
	s.extendKnownTags([]Example{{Input: sampleInput("#sports")}})
	s.model.grow(oldDim + 1)

	for i := 0; i < oldDim; i++ {
		if s.model.weights[i] != oldWeights[i] {
			t.Fatalf("weight %d changed from %v to %v after padding", i, oldWeights[i], s.model.weights[i])
		}
	}
}

func TestLoadRestoresState(t *testing.T) {
	s, repo, _ := newTestScorer(2)

	if err := s.Train(context.Background(), trainingBatch(3, "#news")); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	restored, _, _ := newTestScorer(2)
	restored.repo = repo

	if err := restored.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if restored.SampleCount() != 3 {
		t.Errorf("restored SampleCount() = %d, want 3", restored.SampleCount())
	}

	if len(restored.knownTags) != 1 || restored.knownTags[0] != "news" {
		t.Errorf("restored knownTags = %v, want [news]", restored.knownTags)
	}
}
