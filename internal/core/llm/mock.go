package llm

import (
	"context"
	"hash/fnv"
	"strings"
)

// mockClient is a deterministic Client used in mock mode and tests.
type mockClient struct{}

// NewMock creates a mock LLM client that never calls an external API.
func NewMock() Client {
	return &mockClient{}
}

func (m *mockClient) Summarize(_ context.Context, text string) (*Summary, error) {
	headline := text
	if len([]rune(headline)) > 60 {
		headline = string([]rune(headline)[:60])
	}

	return &Summary{
		Text:     text,
		Hashtags: []string{"#news"},
		Headline: strings.TrimSpace(headline),
	}, nil
}

// IsDuplicate treats exact headline matches as duplicates so pipeline tests
// remain deterministic.
func (m *mockClient) IsDuplicate(_ context.Context, candidate, existing Pair) (bool, error) {
	return candidate.Headline != "" && candidate.Headline == existing.Headline, nil
}

// GetEmbedding returns a small stable vector derived from the text hash.
func (m *mockClient) GetEmbedding(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, 8)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%1000)/1000.0 - 0.5
	}

	return vec, nil
}
