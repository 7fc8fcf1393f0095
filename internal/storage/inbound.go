package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
)

const inboundColumns = `id, tg_message_id, channel_id, channel_name, author, raw_text, text, urls,
	summary, hashtags, headline, public_link, occurred_at, state, error, published_item_id`

// InboundLink links an inbound message to its published item.
type InboundLink struct {
	InboundID   string
	PublishedID string
}

// ExistingInboundKeys returns the message IDs of the given channel that are
// already stored, so the reader can skip them before inserting.
func (db *DB) ExistingInboundKeys(ctx context.Context, channelID int64, messageIDs []int64) (map[int64]struct{}, error) {
	if len(messageIDs) == 0 {
		return map[int64]struct{}{}, nil
	}

	query, args, err := qb.Select("tg_message_id").
		From("inbound_messages").
		Where(squirrel.Eq{"channel_id": channelID, "tg_message_id": messageIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build existing inbound query: %w", err)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing inbound keys: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]struct{})

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan existing inbound key: %w", err)
		}

		existing[id] = struct{}{}
	}

	return existing, rows.Err()
}

// SaveInboundBatch inserts inbound messages, assigning IDs in place.
// Conflicting (channel, message) pairs are skipped silently.
func (db *DB) SaveInboundBatch(ctx context.Context, items []*domain.InboundItem) error {
	if len(items) == 0 {
		return nil
	}

	builder := qb.Insert("inbound_messages").
		Columns("id", "tg_message_id", "channel_id", "channel_name", "author", "raw_text",
			"public_link", "occurred_at", "state").
		Suffix("ON CONFLICT (channel_id, tg_message_id) DO NOTHING")

	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}

		builder = builder.Values(item.ID, item.TGMessageID, item.ChannelID, item.ChannelName,
			SanitizeUTF8(item.Author), SanitizeUTF8(item.RawText), item.PublicLink,
			toTimestamptz(item.OccurredAt), item.State)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build inbound insert: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert inbound batch: %w", err)
	}

	return nil
}

// ListInboundByState returns inbound messages in the given state, oldest first.
func (db *DB) ListInboundByState(ctx context.Context, state string, limit int) ([]domain.InboundItem, error) {
	builder := qb.Select(inboundColumns).
		From("inbound_messages").
		Where(squirrel.Eq{"state": state}).
		OrderBy("occurred_at ASC")

	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	return db.queryInbound(ctx, builder)
}

// ListUnlinkedSummarized returns summarized messages not yet linked to a
// published item.
func (db *DB) ListUnlinkedSummarized(ctx context.Context) ([]domain.InboundItem, error) {
	builder := qb.Select(inboundColumns).
		From("inbound_messages").
		Where(squirrel.Eq{"state": domain.InboundStateSummarized}).
		Where("published_item_id IS NULL").
		OrderBy("occurred_at ASC")

	return db.queryInbound(ctx, builder)
}

// ListInboundByPublished returns all inbound messages linked to a published item.
func (db *DB) ListInboundByPublished(ctx context.Context, publishedID string) ([]domain.InboundItem, error) {
	builder := qb.Select(inboundColumns).
		From("inbound_messages").
		Where(squirrel.Eq{"published_item_id": toUUID(publishedID)}).
		OrderBy("occurred_at ASC")

	return db.queryInbound(ctx, builder)
}

// UpdateInboundCleanedBatch persists cleaned text, extracted URLs and the
// clean state for a batch of messages.
func (db *DB) UpdateInboundCleanedBatch(ctx context.Context, items []domain.InboundItem) error {
	batch := &pgx.Batch{}

	for _, item := range items {
		query, args, err := qb.Update("inbound_messages").
			Set("text", SanitizeUTF8(item.Text)).
			Set("urls", item.URLs).
			Set("state", domain.InboundStateClean).
			Where(squirrel.Eq{"id": item.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build cleaned update: %w", err)
		}

		batch.Queue(query, args...)
	}

	if err := db.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("update cleaned batch: %w", err)
	}

	return nil
}

// UpdateInboundSummary persists the summarization result for one message.
func (db *DB) UpdateInboundSummary(ctx context.Context, item domain.InboundItem) error {
	query, args, err := qb.Update("inbound_messages").
		Set("summary", SanitizeUTF8(item.Summary)).
		Set("hashtags", item.Hashtags).
		Set("headline", SanitizeUTF8(item.Headline)).
		Set("state", domain.InboundStateSummarized).
		Where(squirrel.Eq{"id": item.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build summary update: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update inbound summary: %w", err)
	}

	return nil
}

// MarkInboundError moves a message to the error state with a failure string.
func (db *DB) MarkInboundError(ctx context.Context, id string, errMsg string) error {
	query, args, err := qb.Update("inbound_messages").
		Set("state", domain.InboundStateError).
		Set("error", SanitizeUTF8(errMsg)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build inbound error update: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark inbound error: %w", err)
	}

	return nil
}

// LinkInboundBatch links inbound messages to published items and marks them
// deduplicated.
func (db *DB) LinkInboundBatch(ctx context.Context, links []InboundLink) error {
	batch := &pgx.Batch{}

	for _, link := range links {
		query, args, err := qb.Update("inbound_messages").
			Set("published_item_id", toUUID(link.PublishedID)).
			Set("state", domain.InboundStateDeduplicated).
			Where(squirrel.Eq{"id": link.InboundID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build link update: %w", err)
		}

		batch.Queue(query, args...)
	}

	if err := db.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("link inbound batch: %w", err)
	}

	return nil
}

// MaxInboundOccurredAt returns the newest message timestamp seen, or a zero
// time when the table is empty.
func (db *DB) MaxInboundOccurredAt(ctx context.Context) (time.Time, error) {
	var maxAt pgtype.Timestamptz

	err := db.Pool.QueryRow(ctx, "SELECT MAX(occurred_at) FROM inbound_messages").Scan(&maxAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("query max occurred_at: %w", err)
	}

	return fromTimestamptz(maxAt), nil
}

func (db *DB) queryInbound(ctx context.Context, builder squirrel.SelectBuilder) ([]domain.InboundItem, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build inbound query: %w", err)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inbound messages: %w", err)
	}
	defer rows.Close()

	var items []domain.InboundItem

	for rows.Next() {
		item, err := scanInbound(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func scanInbound(rows pgx.Rows) (domain.InboundItem, error) {
	var (
		item            domain.InboundItem
		text            pgtype.Text
		summary         pgtype.Text
		headline        pgtype.Text
		publicLink      pgtype.Text
		errMsg          pgtype.Text
		occurredAt      pgtype.Timestamptz
		publishedItemID pgtype.UUID
	)

	if err := rows.Scan(&item.ID, &item.TGMessageID, &item.ChannelID, &item.ChannelName,
		&item.Author, &item.RawText, &text, &item.URLs, &summary, &item.Hashtags,
		&headline, &publicLink, &occurredAt, &item.State, &errMsg, &publishedItemID); err != nil {
		return domain.InboundItem{}, fmt.Errorf("scan inbound message: %w", err)
	}

	item.Text = fromText(text)
	item.Summary = fromText(summary)
	item.Headline = fromText(headline)
	item.PublicLink = fromText(publicLink)
	item.Error = fromText(errMsg)
	item.OccurredAt = fromTimestamptz(occurredAt)
	item.PublishedItemID = fromUUID(publishedItemID)

	return item, nil
}

// sendBatch executes a batch and surfaces the first failure.
func (db *DB) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
