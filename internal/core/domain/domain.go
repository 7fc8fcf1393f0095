// Package domain holds the core entities shared across the pipeline,
// storage and transport layers.
package domain

import (
	"fmt"
	"time"
)

// InboundItem represents a single message read from a source channel.
type InboundItem struct {
	ID              string
	TGMessageID     int64
	ChannelID       int64
	ChannelName     string
	Author          string
	RawText         string
	Text            string
	URLs            []string
	Summary         string
	Hashtags        []string
	Headline        string
	PublicLink      string
	OccurredAt      time.Time
	State           string
	Error           string
	PublishedItemID string
}

// Inbound item lifecycle states.
const (
	InboundStateRead         = "read"
	InboundStateClean        = "clean"
	InboundStateSummarized   = "summarized"
	InboundStateDeduplicated = "deduplicated"
	InboundStateError        = "error"
)

// PublishedItem represents the single outbound representation of one story.
// Several inbound items may link to the same published item after merging.
type PublishedItem struct {
	ID              string
	TGMessageID     int64
	Text            string
	OccurredAt      time.Time
	State           string
	Error           string
	SentAt          time.Time
	EngagementCount int
	NormalizedScore float64
	PredictionScore *float64
	BotReaction     string
	DiscussedAt     *time.Time
}

// Published item lifecycle states.
const (
	PublishedStateNew      = "new"
	PublishedStateToUpdate = "to_update"
	PublishedStateToSend   = "to_send"
	PublishedStateNoSend   = "no_send"
	PublishedStateLowScore = "low_score"
	PublishedStateSent     = "sent"
	PublishedStateError    = "error"
	PublishedStateRenew    = "renew"
)

// Reaction is a single emoji reaction bucket on a message.
type Reaction struct {
	Emoji string
	Count int
}

// FunnelStats summarizes one pipeline run for observability.
type FunnelStats struct {
	Read   int
	Sent   int
	ToSend int
}

func (f FunnelStats) String() string {
	return fmt.Sprintf("%d / %d / %d", f.Read, f.Sent, f.ToSend)
}

// ScorerState is the persisted snapshot of the relevance model.
type ScorerState struct {
	Weights       []float64
	Bias          float64
	KnownTags     []string
	SampleCount   int
	Centroid      []float32
	LastTrainedAt time.Time
}

// ChannelInfo identifies a source channel on the transport side.
type ChannelInfo struct {
	ID         int64
	AccessHash int64
	Username   string
	Title      string
}
