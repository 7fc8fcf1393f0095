package scorer

import (
	"testing"

	"github.com/iJKos/TelegramHelper/internal/core/domain"
)

func TestChooseBotReaction(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  string
	}{
		{name: "above_positive", score: 0.75, want: ReactionPositive},
		{name: "exactly_positive", score: 0.6, want: ReactionPositive},
		{name: "neutral", score: 0.5, want: ""},
		{name: "exactly_negative", score: 0.25, want: ReactionNegative},
		{name: "below_negative", score: 0.1, want: ReactionNegative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChooseBotReaction(tt.score, 0.6, 0.25)
			if got != tt.want {
				t.Errorf("ChooseBotReaction(%v) = %q, want %q", tt.score, got, tt.want)
			}
		})
	}
}

func TestWeightedScore(t *testing.T) {
	reactions := []domain.Reaction{
		{Emoji: "🔥", Count: 2},
		{Emoji: "👎", Count: 3},
		{Emoji: "🤷", Count: 1},
	}

	// 2*10 + 3*(-1) + 1*1 (unknown emoji defaults to 1)
	if got := WeightedScore(reactions); got != 18 {
		t.Errorf("WeightedScore() = %d, want 18", got)
	}
}

func TestWeightedScoreExcludingBot(t *testing.T) {
	tests := []struct {
		name      string
		reactions []domain.Reaction
		botEmoji  string
		want      int
	}{
		{
			name:      "subtracts_one_from_bot_emoji",
			reactions: []domain.Reaction{{Emoji: "👍", Count: 5}},
			botEmoji:  "👍",
			want:      4,
		},
		{
			name: "first_occurrence_only",
			reactions: []domain.Reaction{
				{Emoji: "👍", Count: 2},
				{Emoji: "👍", Count: 2},
			},
			botEmoji: "👍",
			want:     3,
		},
		{
			name:      "floors_at_zero",
			reactions: []domain.Reaction{{Emoji: "👎", Count: 0}},
			botEmoji:  "👎",
			want:      0,
		},
		{
			name:      "no_bot_reaction",
			reactions: []domain.Reaction{{Emoji: "🔥", Count: 1}},
			botEmoji:  "",
			want:      10,
		},
		{
			name: "other_emojis_untouched",
			reactions: []domain.Reaction{
				{Emoji: "🔥", Count: 1},
				{Emoji: "👍", Count: 1},
			},
			botEmoji: "👍",
			want:     10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedScoreExcludingBot(tt.reactions, tt.botEmoji)
			if got != tt.want {
				t.Errorf("WeightedScoreExcludingBot() = %d, want %d", got, tt.want)
			}
		})
	}
}
