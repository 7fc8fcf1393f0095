package scorer

import "github.com/iJKos/TelegramHelper/internal/core/domain"

// Bot reaction emojis.
const (
	ReactionPositive = "👍"
	ReactionNegative = "👎"
)

// reactionWeights maps emoji to their engagement weight. Unknown reactions
// count as defaultReactionWeight.
var reactionWeights = map[string]int{
	"🔥":  10,
	"❤":  5,
	"❤️": 5,
	"👍":  1,
	"👎":  -1,
	"💩":  -5,
	"🤮":  -10,
}

const defaultReactionWeight = 1

// WeightedScore sums reaction counts multiplied by per-emoji weights.
func WeightedScore(reactions []domain.Reaction) int {
	total := 0

	for _, reaction := range reactions {
		total += reactionWeight(reaction.Emoji) * reaction.Count
	}

	return total
}

// WeightedScoreExcludingBot computes the weighted sum with the bot's own
// reaction removed: exactly one count is subtracted from the first occurrence
// of the bot's emoji, floored at zero. The approximation assumes the bot
// reacted once with a count-of-one emoji.
func WeightedScoreExcludingBot(reactions []domain.Reaction, botEmoji string) int {
	total := 0
	subtracted := false

	for _, reaction := range reactions {
		count := reaction.Count

		if !subtracted && botEmoji != "" && reaction.Emoji == botEmoji {
			count--
			if count < 0 {
				count = 0
			}

			subtracted = true
		}

		total += reactionWeight(reaction.Emoji) * count
	}

	return total
}

// ChooseBotReaction derives the automatic reaction from a prediction score.
// The neutral cold-start value falls between the thresholds and therefore
// never triggers a reaction.
func ChooseBotReaction(score, posThreshold, negThreshold float64) string {
	switch {
	case score >= posThreshold:
		return ReactionPositive
	case score <= negThreshold:
		return ReactionNegative
	default:
		return ""
	}
}

func reactionWeight(emoji string) int {
	if weight, ok := reactionWeights[emoji]; ok {
		return weight
	}

	return defaultReactionWeight
}
