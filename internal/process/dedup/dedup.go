// Package dedup resolves whether a summarized candidate duplicates an
// already-published story. A cheap lexical prefilter bounds the number of
// expensive oracle calls to near-duplicates only.
package dedup

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/core/llm"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
)

// Oracle confirms whether two items describe the same event.
type Oracle interface {
	IsDuplicate(ctx context.Context, candidate, existing llm.Pair) (bool, error)
}

// Candidate is one side of a duplicate-resolution decision.
type Candidate struct {
	ID       string
	Headline string
	Summary  string
}

type Resolver struct {
	oracle    Oracle
	threshold float64
	logger    *zerolog.Logger
}

func NewResolver(oracle Oracle, threshold float64, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		oracle:    oracle,
		threshold: threshold,
		logger:    logger,
	}
}

// Resolve returns the ID of the existing pool entry the candidate duplicates,
// or an empty string when it is novel. The pool is queried most-similar-first
// and the first oracle confirmation wins. Oracle failures are treated as
// non-duplicate for that pair, and the scan continues.
func (r *Resolver) Resolve(ctx context.Context, candidate Candidate, pool []Candidate) (string, error) {
	if len(pool) == 0 || candidate.Headline == "" {
		return "", nil
	}

	headlines := make([]string, len(pool))
	for i, existing := range pool {
		headlines[i] = existing.Headline
	}

	matches := FindSimilar(candidate.Headline, headlines, r.threshold)

	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		existing := pool[match.Index]

		isDup, err := r.oracle.IsDuplicate(ctx,
			llm.Pair{Headline: candidate.Headline, Text: candidate.Summary},
			llm.Pair{Headline: existing.Headline, Text: existing.Summary})
		if err != nil {
			observability.DedupOracleCalls.WithLabelValues("error").Inc()
			r.logger.Warn().Err(err).
				Str("candidate", candidate.ID).
				Str("existing", existing.ID).
				Msg("duplicate oracle failed, treating pair as non-duplicate")

			continue
		}

		if isDup {
			observability.DedupOracleCalls.WithLabelValues("duplicate").Inc()

			return existing.ID, nil
		}

		observability.DedupOracleCalls.WithLabelValues("novel").Inc()
	}

	return "", nil
}
