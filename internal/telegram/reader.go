package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/platform/config"
	"github.com/iJKos/TelegramHelper/internal/platform/observability"
)

const historyPageSize = 100

// ErrFolderNotFound indicates the dialog folder was not found.
var ErrFolderNotFound = errors.New("folder not found")

// ErrChannelNotFound indicates the channel was not found.
var ErrChannelNotFound = errors.New("channel not found")

// ErrNotAChannel indicates the peer is not a channel.
var ErrNotAChannel = errors.New("peer is not a channel")

// Reader connects to Telegram as a user and reads source channels. All
// API calls go through one rate limiter shared by the session.
type Reader struct {
	cfg     *config.Config
	client  *telegram.Client
	logger  *zerolog.Logger
	limiter *rate.Limiter
}

func NewReader(cfg *config.Config, logger *zerolog.Logger) *Reader {
	rps := cfg.RateLimitRPS
	if rps < 1 {
		rps = 1
	}

	return &Reader{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Run connects, authenticates and hands a live session to fn. The session
// is only valid until fn returns.
func (r *Reader) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	client := telegram.NewClient(r.cfg.TGAPIID, r.cfg.TGAPIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{
			Path: r.cfg.TGSessionPath,
		},
	})

	r.client = client

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, r.authFlow()); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}

		r.logger.Info().Msg("Successfully authenticated as user")

		return fn(ctx, &Session{reader: r, api: tg.NewClient(client)})
	})
}

// Session is an authenticated MTProto API handle.
type Session struct {
	reader *Reader
	api    *tg.Client
}

// FolderChannels lists the channels included in a dialog folder by title.
func (s *Session) FolderChannels(ctx context.Context, folderName string) ([]domain.ChannelInfo, error) {
	if err := s.reader.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	filters, err := s.api.MessagesGetDialogFilters(ctx)
	if err != nil {
		return nil, fmt.Errorf("get dialog filters: %w", err)
	}

	var peers []tg.InputPeerClass

	for _, filter := range filters.Filters {
		switch f := filter.(type) {
		case *tg.DialogFilter:
			if f.Title.Text == folderName {
				peers = f.IncludePeers
			}
		case *tg.DialogFilterChatlist:
			if f.Title.Text == folderName {
				peers = f.IncludePeers
			}
		}

		if peers != nil {
			break
		}
	}

	if peers == nil {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folderName)
	}

	inputs := make([]tg.InputChannelClass, 0, len(peers))

	for _, peer := range peers {
		if ch, ok := peer.(*tg.InputPeerChannel); ok {
			inputs = append(inputs, &tg.InputChannel{
				ChannelID:  ch.ChannelID,
				AccessHash: ch.AccessHash,
			})
		}
	}

	if len(inputs) == 0 {
		return nil, nil
	}

	if err := s.reader.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	chats, err := s.api.ChannelsGetChannels(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("get channels: %w", err)
	}

	result, ok := chats.(*tg.MessagesChats)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected response %T", ErrChannelNotFound, chats)
	}

	channels := make([]domain.ChannelInfo, 0, len(result.Chats))

	for _, chat := range result.Chats {
		if channel, ok := chat.(*tg.Channel); ok {
			channels = append(channels, domain.ChannelInfo{
				ID:         channel.ID,
				AccessHash: channel.AccessHash,
				Username:   channel.Username,
				Title:      channel.Title,
			})
		}
	}

	s.reader.logger.Info().Int("channels", len(channels)).Str("folder", folderName).Msg("Read channels from folder")

	return channels, nil
}

// ResolveChannel resolves a channel reference, either a username or a
// numeric ID, into peer identity.
func (s *Session) ResolveChannel(ctx context.Context, username string) (domain.ChannelInfo, error) {
	if id, ok := ParseChannelRef(username); ok {
		return s.resolveChannelByID(ctx, id)
	}

	if err := s.reader.limiter.Wait(ctx); err != nil {
		return domain.ChannelInfo{}, err
	}

	resolved, err := s.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: strings.TrimPrefix(username, "@"),
	})
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("resolve username: %w", err)
	}

	if len(resolved.Chats) == 0 {
		return domain.ChannelInfo{}, fmt.Errorf("%w: %s", ErrChannelNotFound, username)
	}

	channel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return domain.ChannelInfo{}, fmt.Errorf("%w: %s", ErrNotAChannel, username)
	}

	return domain.ChannelInfo{
		ID:         channel.ID,
		AccessHash: channel.AccessHash,
		Username:   channel.Username,
		Title:      channel.Title,
	}, nil
}

// resolveChannelByID looks up a channel the account already knows about.
// The access hash comes back from the server for joined channels.
func (s *Session) resolveChannelByID(ctx context.Context, id int64) (domain.ChannelInfo, error) {
	if err := s.reader.limiter.Wait(ctx); err != nil {
		return domain.ChannelInfo{}, err
	}

	chats, err := s.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: id},
	})
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("get channel %d: %w", id, err)
	}

	result, ok := chats.(*tg.MessagesChats)
	if !ok {
		return domain.ChannelInfo{}, fmt.Errorf("%w: unexpected response %T", ErrChannelNotFound, chats)
	}

	for _, chat := range result.Chats {
		if channel, ok := chat.(*tg.Channel); ok && channel.ID == id {
			return domain.ChannelInfo{
				ID:         channel.ID,
				AccessHash: channel.AccessHash,
				Username:   channel.Username,
				Title:      channel.Title,
			}, nil
		}
	}

	return domain.ChannelInfo{}, fmt.Errorf("%w: %d", ErrChannelNotFound, id)
}

// FetchMessages reads channel messages with occurred_at in [from, to),
// oldest first. Ad posts and messages shorter than the configured minimum
// are skipped.
func (s *Session) FetchMessages(ctx context.Context, ch domain.ChannelInfo, from, to time.Time) ([]domain.InboundItem, error) {
	peer := &tg.InputPeerChannel{
		ChannelID:  ch.ID,
		AccessHash: ch.AccessHash,
	}

	var items []domain.InboundItem

	offsetID := 0
	done := false

	for !done {
		if err := s.reader.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req := &tg.MessagesGetHistoryRequest{
			Peer:  peer,
			Limit: historyPageSize,
		}
		if offsetID == 0 {
			req.OffsetDate = int(to.Unix())
		} else {
			req.OffsetID = offsetID
		}

		history, err := s.api.MessagesGetHistory(ctx, req)
		if err != nil {
			waited, waitErr := s.waitFlood(ctx, err, ch.Username)
			if waitErr != nil {
				return nil, waitErr
			}

			if waited {
				continue
			}

			return nil, fmt.Errorf("get history: %w", err)
		}

		var messages []tg.MessageClass

		switch h := history.(type) {
		case *tg.MessagesMessages:
			messages = h.Messages
		case *tg.MessagesMessagesSlice:
			messages = h.Messages
		case *tg.MessagesChannelMessages:
			messages = h.Messages
		case *tg.MessagesMessagesNotModified:
			done = true
		}

		if len(messages) == 0 {
			break
		}

		prevOffset := offsetID

		for _, m := range messages {
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}

			if offsetID == 0 || msg.ID < offsetID {
				offsetID = msg.ID
			}

			occurredAt := time.Unix(int64(msg.Date), 0).UTC()
			if occurredAt.Before(from) {
				done = true
				break
			}

			if !occurredAt.Before(to) {
				continue
			}

			if item, ok := s.toInboundItem(ch, msg, occurredAt); ok {
				items = append(items, item)
			}
		}

		// Stop if the page carried no regular messages to advance the cursor.
		if offsetID == prevOffset {
			break
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].OccurredAt.Before(items[j].OccurredAt)
	})

	return items, nil
}

func (s *Session) toInboundItem(ch domain.ChannelInfo, msg *tg.Message, occurredAt time.Time) (domain.InboundItem, bool) {
	raw := msg.Message

	if strings.Contains(strings.ToLower(raw), "#реклама") {
		return domain.InboundItem{}, false
	}

	if len([]rune(raw)) < s.reader.cfg.MinRawLength {
		return domain.InboundItem{}, false
	}

	item := domain.InboundItem{
		TGMessageID: int64(msg.ID),
		ChannelID:   ch.ID,
		ChannelName: ch.Title,
		Author:      ch.Username,
		RawText:     raw,
		OccurredAt:  occurredAt,
		State:       domain.InboundStateRead,
	}

	if ch.Username != "" {
		item.PublicLink = MessageLink(ch.Username, int64(msg.ID))
	}

	return item, true
}

// AudienceSize returns the channel's subscriber count.
func (s *Session) AudienceSize(ctx context.Context, ch domain.ChannelInfo) (int, error) {
	if err := s.reader.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	full, err := s.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ID,
		AccessHash: ch.AccessHash,
	})
	if err != nil {
		return 0, fmt.Errorf("get full channel: %w", err)
	}

	if channelFull, ok := full.FullChat.(*tg.ChannelFull); ok {
		return channelFull.ParticipantsCount, nil
	}

	return 0, nil
}

// Reactions returns the reaction buckets on one message. Paid reactions
// are skipped; custom-emoji reactions are kept with an empty emoji so
// they still contribute to the raw count.
func (s *Session) Reactions(ctx context.Context, ch domain.ChannelInfo, messageID int64) ([]domain.Reaction, error) {
	if err := s.reader.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{
			ChannelID:  ch.ID,
			AccessHash: ch.AccessHash,
		},
		ID: []tg.InputMessageClass{&tg.InputMessageID{ID: int(messageID)}},
	})
	if err != nil {
		waited, waitErr := s.waitFlood(ctx, err, ch.Username)
		if waitErr != nil {
			return nil, waitErr
		}

		if waited {
			return s.Reactions(ctx, ch, messageID)
		}

		return nil, fmt.Errorf("get messages: %w", err)
	}

	var messages []tg.MessageClass

	switch m := res.(type) {
	case *tg.MessagesMessages:
		messages = m.Messages
	case *tg.MessagesMessagesSlice:
		messages = m.Messages
	case *tg.MessagesChannelMessages:
		messages = m.Messages
	}

	for _, m := range messages {
		msg, ok := m.(*tg.Message)
		if !ok || int64(msg.ID) != messageID {
			continue
		}

		reactions, ok := msg.GetReactions()
		if !ok {
			return nil, nil
		}

		result := make([]domain.Reaction, 0, len(reactions.Results))

		for _, rc := range reactions.Results {
			switch reaction := rc.Reaction.(type) {
			case *tg.ReactionEmoji:
				result = append(result, domain.Reaction{Emoji: reaction.Emoticon, Count: rc.Count})
			case *tg.ReactionPaid:
			default:
				result = append(result, domain.Reaction{Count: rc.Count})
			}
		}

		return result, nil
	}

	return nil, nil
}

func (s *Session) waitFlood(ctx context.Context, err error, channel string) (bool, error) {
	floodErr, ok := tgerr.As(err)
	if !ok || floodErr.Type != "FLOOD_WAIT" {
		return false, nil
	}

	s.reader.logger.Warn().Int("seconds", floodErr.Argument).Str("channel", channel).Msg("flood wait")
	observability.ReaderFloodWaitSecondsTotal.WithLabelValues(channel).Add(float64(floodErr.Argument))

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(time.Duration(floodErr.Argument) * time.Second):
	}

	return true, nil
}

// ChannelMessage is a raw text post read back from a channel history,
// used to resync stored records with what the channel actually holds.
type ChannelMessage struct {
	ID   int64
	Text string
	Date time.Time
}

// ChannelMessages lists the text messages posted in a channel since the
// given time, newest first.
func (s *Session) ChannelMessages(ctx context.Context, ch domain.ChannelInfo, since time.Time) ([]ChannelMessage, error) {
	peer := &tg.InputPeerChannel{
		ChannelID:  ch.ID,
		AccessHash: ch.AccessHash,
	}

	var out []ChannelMessage

	offsetID := 0
	done := false

	for !done {
		if err := s.reader.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req := &tg.MessagesGetHistoryRequest{
			Peer:  peer,
			Limit: historyPageSize,
		}
		if offsetID != 0 {
			req.OffsetID = offsetID
		}

		history, err := s.api.MessagesGetHistory(ctx, req)
		if err != nil {
			waited, waitErr := s.waitFlood(ctx, err, ch.Username)
			if waitErr != nil {
				return nil, waitErr
			}

			if waited {
				continue
			}

			return nil, fmt.Errorf("get history: %w", err)
		}

		var messages []tg.MessageClass

		switch h := history.(type) {
		case *tg.MessagesMessages:
			messages = h.Messages
		case *tg.MessagesMessagesSlice:
			messages = h.Messages
		case *tg.MessagesChannelMessages:
			messages = h.Messages
		case *tg.MessagesMessagesNotModified:
			done = true
		}

		if len(messages) == 0 {
			break
		}

		prevOffset := offsetID

		for _, m := range messages {
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}

			if offsetID == 0 || msg.ID < offsetID {
				offsetID = msg.ID
			}

			date := time.Unix(int64(msg.Date), 0).UTC()
			if date.Before(since) {
				done = true
				break
			}

			if msg.Message == "" {
				continue
			}

			out = append(out, ChannelMessage{
				ID:   int64(msg.ID),
				Text: msg.Message,
				Date: date,
			})
		}

		if offsetID == prevOffset {
			break
		}
	}

	return out, nil
}
