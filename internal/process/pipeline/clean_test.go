package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTextExtractsURLs(t *testing.T) {
	raw := "Вышел новый релиз https://example.com/release подробности https://example.com/release и ещё https://other.io/post."

	text, urls := CleanText(raw)

	assert.Equal(t, []string{"https://example.com/release", "https://other.io/post"}, urls)
	assert.Equal(t, "Вышел новый релиз  подробности  и ещё", text)
}

func TestCleanTextRemovesHashtags(t *testing.T) {
	text, _ := CleanText("Новости дня #новости #tech_news конец")

	assert.Equal(t, "Новости дня   конец", text)
}

func TestCleanTextStripsBoldMarkers(t *testing.T) {
	text, _ := CleanText("**Важно** читать")

	assert.Equal(t, "Важно читать", text)
}

func TestCleanTextEmpty(t *testing.T) {
	text, urls := CleanText("   ")

	assert.Empty(t, text)
	assert.Nil(t, urls)
}
