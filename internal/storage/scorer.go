package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
)

// ErrScorerStateNotFound is returned when no scorer snapshot has been saved yet.
var ErrScorerStateNotFound = errors.New("scorer state not found")

const scorerStateID = 1

// LoadScorerState returns the persisted scorer snapshot.
func (db *DB) LoadScorerState(ctx context.Context) (*domain.ScorerState, error) {
	var (
		state         domain.ScorerState
		centroid      *pgvector.Vector
		lastTrainedAt pgtype.Timestamptz
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT weights, bias, known_tags, sample_count, centroid, last_trained_at
		FROM scorer_state WHERE id = $1
	`, scorerStateID).Scan(&state.Weights, &state.Bias, &state.KnownTags,
		&state.SampleCount, &centroid, &lastTrainedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScorerStateNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("load scorer state: %w", err)
	}

	state.Centroid = centroidSlice(centroid)

	state.LastTrainedAt = fromTimestamptz(lastTrainedAt)

	return &state, nil
}

// centroidSlice unwraps a nullable centroid column value.
func centroidSlice(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}

	return v.Slice()
}

// SaveScorerState upserts the scorer snapshot as a single row so weights,
// tags, centroid and counters stay consistent with each other.
func (db *DB) SaveScorerState(ctx context.Context, state *domain.ScorerState) error {
	var centroid interface{}
	if len(state.Centroid) > 0 {
		centroid = pgvector.NewVector(state.Centroid)
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO scorer_state (id, weights, bias, known_tags, sample_count, centroid, last_trained_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			weights = EXCLUDED.weights,
			bias = EXCLUDED.bias,
			known_tags = EXCLUDED.known_tags,
			sample_count = EXCLUDED.sample_count,
			centroid = EXCLUDED.centroid,
			last_trained_at = EXCLUDED.last_trained_at,
			updated_at = NOW()
	`, scorerStateID, state.Weights, state.Bias, state.KnownTags,
		state.SampleCount, centroid, toTimestamptz(state.LastTrainedAt))
	if err != nil {
		return fmt.Errorf("save scorer state: %w", err)
	}

	return nil
}
