package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
)

const publishedColumns = `id, tg_message_id, text, occurred_at, state, error, sent_at,
	engagement_count, normalized_score, prediction_score, bot_reaction, discussed_at`

// InsertPublishedBatch inserts published items, assigning IDs in place.
func (db *DB) InsertPublishedBatch(ctx context.Context, items []*domain.PublishedItem) error {
	if len(items) == 0 {
		return nil
	}

	builder := qb.Insert("published_messages").
		Columns("id", "tg_message_id", "occurred_at", "state")

	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}

		builder = builder.Values(item.ID, toInt8(item.TGMessageID), toTimestamptz(item.OccurredAt), item.State)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build published insert: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert published batch: %w", err)
	}

	return nil
}

// ListPublishedByStates returns published items in any of the given states,
// oldest occurred_at first.
func (db *DB) ListPublishedByStates(ctx context.Context, states []string) ([]domain.PublishedItem, error) {
	builder := qb.Select(publishedColumns).
		From("published_messages").
		Where(squirrel.Eq{"state": states}).
		OrderBy("occurred_at ASC")

	return db.queryPublished(ctx, builder)
}

// ListPublishedWindow returns published items whose source timestamp falls
// within [from, to], used as the dedup comparison pool.
func (db *DB) ListPublishedWindow(ctx context.Context, from, to time.Time) ([]domain.PublishedItem, error) {
	builder := qb.Select(publishedColumns).
		From("published_messages").
		Where(squirrel.GtOrEq{"occurred_at": from}).
		Where(squirrel.LtOrEq{"occurred_at": to}).
		Where(squirrel.NotEq{"state": domain.PublishedStateError}).
		OrderBy("occurred_at ASC")

	return db.queryPublished(ctx, builder)
}

// ListSentWithin returns sent items whose source timestamp falls within the
// engagement window.
func (db *DB) ListSentWithin(ctx context.Context, from, to time.Time) ([]domain.PublishedItem, error) {
	builder := qb.Select(publishedColumns).
		From("published_messages").
		Where(squirrel.Eq{"state": domain.PublishedStateSent}).
		Where(squirrel.GtOrEq{"occurred_at": from}).
		Where(squirrel.LtOrEq{"occurred_at": to}).
		OrderBy("occurred_at ASC")

	return db.queryPublished(ctx, builder)
}

// ListTrainingCandidates returns every sent item that has a transport
// identity, regardless of window. Used to build the training set.
func (db *DB) ListTrainingCandidates(ctx context.Context) ([]domain.PublishedItem, error) {
	builder := qb.Select(publishedColumns).
		From("published_messages").
		Where(squirrel.Eq{"state": domain.PublishedStateSent}).
		Where("tg_message_id IS NOT NULL").
		OrderBy("occurred_at ASC")

	return db.queryPublished(ctx, builder)
}

// TopByNormalizedScore returns the highest scored sent items in the window
// for the daily digest.
func (db *DB) TopByNormalizedScore(ctx context.Context, from, to time.Time, limit int) ([]domain.PublishedItem, error) {
	builder := qb.Select(publishedColumns).
		From("published_messages").
		Where(squirrel.Eq{"state": domain.PublishedStateSent}).
		Where(squirrel.GtOrEq{"occurred_at": from}).
		Where(squirrel.LtOrEq{"occurred_at": to}).
		OrderBy("normalized_score DESC").
		Limit(uint64(limit))

	return db.queryPublished(ctx, builder)
}

// UpdatePublishedState sets the lifecycle state of one item.
func (db *DB) UpdatePublishedState(ctx context.Context, id, state string) error {
	return db.execPublishedUpdate(ctx, id, map[string]interface{}{"state": state})
}

// UpdatePublishedText stores the rendered output text together with the gate
// decision.
func (db *DB) UpdatePublishedText(ctx context.Context, id, text, state string) error {
	return db.execPublishedUpdate(ctx, id, map[string]interface{}{
		"text":  SanitizeUTF8(text),
		"state": state,
	})
}

// SetPredictionScore persists the relevance prediction for one item.
func (db *DB) SetPredictionScore(ctx context.Context, id string, score float64) error {
	return db.execPublishedUpdate(ctx, id, map[string]interface{}{"prediction_score": score})
}

// SetBotReaction records the automatically applied reaction emoji.
func (db *DB) SetBotReaction(ctx context.Context, id, emoji string) error {
	return db.execPublishedUpdate(ctx, id, map[string]interface{}{"bot_reaction": toText(emoji)})
}

// MarkPublishedSent records a successful send or edit.
func (db *DB) MarkPublishedSent(ctx context.Context, id string, tgMessageID int64, sentAt time.Time) error {
	return db.execPublishedUpdate(ctx, id, map[string]interface{}{
		"tg_message_id": tgMessageID,
		"sent_at":       toTimestamptz(sentAt),
		"state":         domain.PublishedStateSent,
		"error":         nil,
	})
}

// MarkPublishedError records a per-item transport failure.
func (db *DB) MarkPublishedError(ctx context.Context, id, errMsg string) error {
	return db.execPublishedUpdate(ctx, id, map[string]interface{}{
		"state": domain.PublishedStateError,
		"error": SanitizeUTF8(errMsg),
	})
}

// UpdateEngagement persists new engagement numbers for one item.
func (db *DB) UpdateEngagement(ctx context.Context, id string, count int, normalized float64) error {
	return db.execPublishedUpdate(ctx, id, map[string]interface{}{
		"engagement_count": safeIntToInt32(count),
		"normalized_score": normalized,
	})
}

// ExistingPublishedTGMessageIDs returns which of the given transport IDs
// already have a stored row.
func (db *DB) ExistingPublishedTGMessageIDs(ctx context.Context, tgMessageIDs []int64) (map[int64]struct{}, error) {
	if len(tgMessageIDs) == 0 {
		return map[int64]struct{}{}, nil
	}

	query, args, err := qb.Select("tg_message_id").
		From("published_messages").
		Where(squirrel.Eq{"tg_message_id": tgMessageIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build published id query: %w", err)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query published ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]struct{}, len(tgMessageIDs))

	for rows.Next() {
		var id pgtype.Int8
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan published id: %w", err)
		}

		existing[fromInt8(id)] = struct{}{}
	}

	return existing, rows.Err()
}

// InsertRenewBatch stores output-channel messages that are missing from the
// table, synced back from the channel itself. Rows carry state=renew so they
// stay out of the pipeline while remaining visible for inspection.
func (db *DB) InsertRenewBatch(ctx context.Context, items []domain.PublishedItem) error {
	if len(items) == 0 {
		return nil
	}

	builder := qb.Insert("published_messages").
		Columns("id", "tg_message_id", "text", "occurred_at", "state", "sent_at")

	for _, item := range items {
		builder = builder.Values(uuid.NewString(), item.TGMessageID, SanitizeUTF8(item.Text),
			toTimestamptz(item.OccurredAt), domain.PublishedStateRenew, toTimestamptz(item.SentAt))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build renew insert: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert renew batch: %w", err)
	}

	return nil
}

func (db *DB) execPublishedUpdate(ctx context.Context, id string, sets map[string]interface{}) error {
	builder := qb.Update("published_messages").Where(squirrel.Eq{"id": id})
	for column, value := range sets {
		builder = builder.Set(column, value)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build published update: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update published message: %w", err)
	}

	return nil
}

func (db *DB) queryPublished(ctx context.Context, builder squirrel.SelectBuilder) ([]domain.PublishedItem, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build published query: %w", err)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query published messages: %w", err)
	}
	defer rows.Close()

	var items []domain.PublishedItem

	for rows.Next() {
		item, err := scanPublished(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func scanPublished(rows pgx.Rows) (domain.PublishedItem, error) {
	var (
		item        domain.PublishedItem
		tgMessageID pgtype.Int8
		text        pgtype.Text
		occurredAt  pgtype.Timestamptz
		errMsg      pgtype.Text
		sentAt      pgtype.Timestamptz
		prediction  pgtype.Float8
		botReaction pgtype.Text
		discussedAt pgtype.Timestamptz
	)

	if err := rows.Scan(&item.ID, &tgMessageID, &text, &occurredAt, &item.State, &errMsg,
		&sentAt, &item.EngagementCount, &item.NormalizedScore, &prediction,
		&botReaction, &discussedAt); err != nil {
		return domain.PublishedItem{}, fmt.Errorf("scan published message: %w", err)
	}

	item.TGMessageID = fromInt8(tgMessageID)
	item.Text = fromText(text)
	item.OccurredAt = fromTimestamptz(occurredAt)
	item.Error = fromText(errMsg)
	item.SentAt = fromTimestamptz(sentAt)
	item.PredictionScore = fromFloat8Ptr(prediction)
	item.BotReaction = fromText(botReaction)
	item.DiscussedAt = fromTimestamptzPtr(discussedAt)

	return item, nil
}
