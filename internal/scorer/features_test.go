package scorer

import (
	"math"
	"testing"
	"time"
)

func TestEmbeddingTextFallback(t *testing.T) {
	if got := (Input{}).EmbeddingText(); got != "empty" {
		t.Errorf("EmbeddingText() = %q, want %q", got, "empty")
	}

	in := Input{Headline: "A", Summary: "B"}
	if got := in.EmbeddingText(); got != "A B" {
		t.Errorf("EmbeddingText() = %q, want %q", got, "A B")
	}
}

func TestNumericBlockLength(t *testing.T) {
	features := numericBlock(Input{}, nil, nil)
	if len(features) != numericFeatures {
		t.Fatalf("numericBlock length = %d, want %d", len(features), numericFeatures)
	}
}

func TestNumericBlockTextLengthFromBody(t *testing.T) {
	// The length feature tracks the cleaned body text, not the summary.
	in := Input{Summary: "короткое резюме", TextLength: 5000}

	if got := numericBlock(in, nil, nil)[0]; got != 0.5 {
		t.Errorf("text length feature = %v, want 0.5 for 5000 runes", got)
	}

	if got := numericBlock(Input{Summary: "короткое резюме"}, nil, nil)[0]; got != 0 {
		t.Errorf("text length feature = %v, want 0 without a body length", got)
	}
}

func TestNumericBlockZeroTimeNeutral(t *testing.T) {
	features := numericBlock(Input{Summary: "text"}, nil, nil)

	if features[1] != 0.5 {
		t.Errorf("hour feature = %v, want 0.5 for missing timestamp", features[1])
	}

	if features[2] != 0.5 {
		t.Errorf("weekday feature = %v, want 0.5 for missing timestamp", features[2])
	}
}

func TestNumericBlockWeekend(t *testing.T) {
	// 2025-06-07 is a Saturday.
	saturday := Input{Summary: "short", OccurredAt: time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)}
	if got := numericBlock(saturday, nil, nil)[3]; got != 1 {
		t.Errorf("weekend flag = %v, want 1 for Saturday", got)
	}

	monday := Input{Summary: "short", OccurredAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	if got := numericBlock(monday, nil, nil)[3]; got != 0 {
		t.Errorf("weekend flag = %v, want 0 for Monday", got)
	}
}

func TestSentenceCount(t *testing.T) {
	if got := sentenceCount("One. Two! Three?"); got != 3 {
		t.Errorf("sentenceCount = %d, want 3", got)
	}

	if got := sentenceCount("No terminator"); got != 1 {
		t.Errorf("sentenceCount = %d, want 1", got)
	}

	if got := sentenceCount(""); got != 0 {
		t.Errorf("sentenceCount = %d, want 0", got)
	}
}

func TestTypeTokenRatio(t *testing.T) {
	if got := typeTokenRatio([]string{"a", "A", "b"}); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("typeTokenRatio = %v, want 2/3", got)
	}

	if got := typeTokenRatio(nil); got != 0 {
		t.Errorf("typeTokenRatio(nil) = %v, want 0", got)
	}
}

func TestCentroidDistance(t *testing.T) {
	if got := centroidDistance([]float32{1, 0}, nil); got != 0.5 {
		t.Errorf("missing centroid distance = %v, want 0.5", got)
	}

	if got := centroidDistance([]float32{1, 0}, []float32{1, 0}); math.Abs(got) > 1e-9 {
		t.Errorf("identical vectors distance = %v, want 0", got)
	}

	if got := centroidDistance([]float32{0, 0}, []float32{1, 0}); got != 1 {
		t.Errorf("zero-norm distance = %v, want 1", got)
	}
}

func TestOneHotPositionalOrder(t *testing.T) {
	known := []string{"news", "tech", "sports"}
	encoded := oneHot([]string{"#Tech"}, known)

	want := []float64{0, 1, 0}
	for i := range want {
		if encoded[i] != want[i] {
			t.Fatalf("oneHot = %v, want %v", encoded, want)
		}
	}
}

func TestBuildVectorLayout(t *testing.T) {
	embedding := []float32{0.1, 0.2}
	known := []string{"news"}

	vec := buildVector(Input{Hashtags: []string{"#news"}}, embedding, nil, known)

	wantLen := len(embedding) + numericFeatures + len(known)
	if len(vec) != wantLen {
		t.Fatalf("buildVector length = %d, want %d", len(vec), wantLen)
	}

	if vec[len(vec)-1] != 1 {
		t.Errorf("one-hot tail = %v, want 1 for matching tag", vec[len(vec)-1])
	}
}
