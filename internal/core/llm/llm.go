// Package llm abstracts the language-model collaborators used by the
// pipeline: summarization, pairwise duplicate checking and embeddings.
package llm

import "context"

// Summary is the structured result of summarizing one message.
type Summary struct {
	Text     string   `json:"text"`
	Hashtags []string `json:"hashtags"`
	Headline string   `json:"headline"`
}

// Pair is one side of a pairwise duplicate check.
type Pair struct {
	Headline string
	Text     string
}

// Client is the language-model interface consumed by the pipeline.
type Client interface {
	// Summarize produces structured text, hashtags and a headline for a
	// cleaned message.
	Summarize(ctx context.Context, text string) (*Summary, error)

	// IsDuplicate reports whether two items describe the same event.
	IsDuplicate(ctx context.Context, candidate, existing Pair) (bool, error)

	// GetEmbedding returns a dense semantic embedding for the text.
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}
