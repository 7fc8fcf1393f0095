package dedup

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Match is a pool entry whose headline is lexically similar to the candidate.
type Match struct {
	Index      int
	Similarity float64
}

// FindSimilar builds a TF-IDF vector space over the candidate headline and
// the pool headlines, and returns pool entries with cosine similarity at or
// above the threshold, sorted by descending similarity.
func FindSimilar(candidate string, pool []string, threshold float64) []Match {
	if candidate == "" || len(pool) == 0 {
		return nil
	}

	docs := make([][]string, 0, len(pool)+1)
	docs = append(docs, tokenize(candidate))

	for _, headline := range pool {
		docs = append(docs, tokenize(headline))
	}

	vectors := vectorize(docs)
	candidateVec := vectors[0]

	matches := make([]Match, 0, len(pool))

	for i := 1; i < len(vectors); i++ {
		sim := cosine(candidateVec, vectors[i])
		if sim >= threshold {
			matches = append(matches, Match{Index: i - 1, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})

	return matches
}

// tokenize lowercases and splits a headline into word unigrams and bigrams.
func tokenize(text string) []string {
	text = strings.ToLower(norm.NFKC.String(text))

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words)*2)
	tokens = append(tokens, words...)

	for i := 0; i+1 < len(words); i++ {
		tokens = append(tokens, words[i]+" "+words[i+1])
	}

	return tokens
}

// vectorize converts token lists to l2-normalized TF-IDF maps.
func vectorize(docs [][]string) []map[string]float64 {
	df := make(map[string]int)

	counts := make([]map[string]float64, len(docs))
	for i, doc := range docs {
		tf := make(map[string]float64, len(doc))
		for _, token := range doc {
			tf[token]++
		}

		for token := range tf {
			df[token]++
		}

		counts[i] = tf
	}

	n := float64(len(docs))

	for _, tf := range counts {
		var sumSquares float64

		for token, count := range tf {
			// Smoothed idf, so terms present in every document still count.
			idf := math.Log((1+n)/(1+float64(df[token]))) + 1
			weight := count * idf
			tf[token] = weight
			sumSquares += weight * weight
		}

		if sumSquares > 0 {
			scale := 1 / math.Sqrt(sumSquares)
			for token := range tf {
				tf[token] *= scale
			}
		}
	}

	return counts
}

func cosine(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot float64

	for token, weight := range a {
		dot += weight * b[token]
	}

	return dot
}
