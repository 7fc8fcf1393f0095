// Package scorer implements the online-learning relevance model: feature
// extraction, an incremental logistic classifier, reaction weighting and
// durable persistence of the model snapshot.
package scorer

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Input carries everything needed to build a feature vector for one item.
// TextLength is the rune count of the cleaned body text, which is longer
// than the summary the other text features are computed from.
type Input struct {
	Headline   string
	Summary    string
	Hashtags   []string
	TextLength int
	OccurredAt time.Time
}

const (
	hoursPerDay      = 24
	daysPerWeek      = 7
	neutralHalf      = 0.5
	numericFeatures  = 16
	maxTextLength    = 10000
	maxWordCount     = 500
	maxSentenceCount = 30
	maxAvgWordLength = 20
	maxURLCount      = 10
	maxPunctCount    = 5
	maxHeadlineLen   = 200
	maxHashtagCount  = 10
)

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	sentencePattern = regexp.MustCompile(`[.!?]+`)
)

// EmbeddingText returns the text whose embedding represents the item. A
// literal placeholder keeps the embedding call valid for empty items.
func (in Input) EmbeddingText() string {
	text := strings.TrimSpace(in.Headline + " " + in.Summary)
	if text == "" {
		return "empty"
	}

	return text
}

// numericBlock computes the fixed numeric feature block. The order of the
// values is part of the persisted model schema and must never change.
func numericBlock(in Input, embedding, centroid []float32) []float64 {
	text := in.Summary
	runes := []rune(text)
	words := strings.Fields(text)

	features := make([]float64, 0, numericFeatures)

	features = append(features, capRatio(in.TextLength, maxTextLength))
	features = append(features, timeOfDay(in.OccurredAt))
	features = append(features, dayOfWeek(in.OccurredAt))
	features = append(features, weekendFlag(in.OccurredAt))
	features = append(features, capRatio(len(words), maxWordCount))
	features = append(features, capRatio(sentenceCount(text), maxSentenceCount))
	features = append(features, avgWordLength(words))
	features = append(features, capRatio(len(urlPattern.FindAllString(text, -1)), maxURLCount))
	features = append(features, digitRatio(runes))
	features = append(features, upperRatio(runes))
	features = append(features, capRatio(strings.Count(text, "?"), maxPunctCount))
	features = append(features, capRatio(strings.Count(text, "!"), maxPunctCount))
	features = append(features, capRatio(len([]rune(in.Headline)), maxHeadlineLen))
	features = append(features, capRatio(len(in.Hashtags), maxHashtagCount))
	features = append(features, typeTokenRatio(words))
	features = append(features, centroidDistance(embedding, centroid))

	return features
}

// oneHot encodes the item's hashtags against the append-only tag vocabulary.
func oneHot(hashtags, knownTags []string) []float64 {
	present := make(map[string]struct{}, len(hashtags))
	for _, tag := range hashtags {
		present[NormalizeTag(tag)] = struct{}{}
	}

	encoded := make([]float64, len(knownTags))

	for i, tag := range knownTags {
		if _, ok := present[tag]; ok {
			encoded[i] = 1
		}
	}

	return encoded
}

// NormalizeTag strips the '#' prefix and lowercases a hashtag for comparison.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimLeft(tag, "#"))
}

func capRatio(value, maxValue int) float64 {
	if value > maxValue {
		value = maxValue
	}

	return float64(value) / float64(maxValue)
}

func timeOfDay(t time.Time) float64 {
	if t.IsZero() {
		return neutralHalf
	}

	return float64(t.Hour()) / hoursPerDay
}

// dayOfWeek maps Monday to 0 and Sunday to 6 before normalizing.
func dayOfWeek(t time.Time) float64 {
	if t.IsZero() {
		return neutralHalf
	}

	return float64(mondayIndexed(t)) / daysPerWeek
}

func weekendFlag(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}

	if mondayIndexed(t) >= 5 {
		return 1
	}

	return 0
}

func mondayIndexed(t time.Time) int {
	return (int(t.Weekday()) + 6) % daysPerWeek
}

func sentenceCount(text string) int {
	count := 0

	for _, part := range sentencePattern.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}

	return count
}

func avgWordLength(words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	total := 0
	for _, word := range words {
		total += len([]rune(word))
	}

	avg := float64(total) / float64(len(words))
	if avg > maxAvgWordLength {
		avg = maxAvgWordLength
	}

	return avg / maxAvgWordLength
}

func digitRatio(runes []rune) float64 {
	if len(runes) == 0 {
		return 0
	}

	digits := 0

	for _, r := range runes {
		if unicode.IsDigit(r) {
			digits++
		}
	}

	return float64(digits) / float64(len(runes))
}

func upperRatio(runes []rune) float64 {
	uppers, alphas := 0, 0

	for _, r := range runes {
		if unicode.IsLetter(r) {
			alphas++

			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}

	if alphas == 0 {
		return 0
	}

	return float64(uppers) / float64(alphas)
}

func typeTokenRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(words))
	for _, word := range words {
		unique[strings.ToLower(word)] = struct{}{}
	}

	return float64(len(unique)) / float64(len(words))
}

// centroidDistance is 1 - cosine similarity to the learned topic centroid.
// A missing centroid yields the neutral 0.5; a degenerate vector yields the
// maximal distance 1.
func centroidDistance(embedding, centroid []float32) float64 {
	if len(centroid) == 0 {
		return neutralHalf
	}

	if len(embedding) != len(centroid) {
		return 1
	}

	var dot, normA, normB float64

	for i := range embedding {
		a, b := float64(embedding[i]), float64(centroid[i])
		dot += a * b
		normA += a * a
		normB += b * b
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// buildVector assembles embedding ++ numeric block ++ one-hot tags.
func buildVector(in Input, embedding []float32, centroid []float32, knownTags []string) []float64 {
	vec := make([]float64, 0, len(embedding)+numericFeatures+len(knownTags))

	for _, v := range embedding {
		vec = append(vec, float64(v))
	}

	vec = append(vec, numericBlock(in, embedding, centroid)...)
	vec = append(vec, oneHot(in.Hashtags, knownTags)...)

	return vec
}
