package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_PicksFrequentSentencesInOrder(t *testing.T) {
	text := "Insulin lowers blood glucose. The weather was nice. " +
		"Insulin doses depend on glucose readings. Cats sleep a lot. " +
		"Glucose monitoring guides insulin therapy."

	summary, err := NewFrequencySummarizer().Summarize(text, 2)
	require.NoError(t, err)

	assert.NotContains(t, summary, "weather")
	assert.NotContains(t, summary, "Cats")
	assert.Equal(t, 2, strings.Count(summary, "."))
}

func TestSummarize_NoSentenceTerminator(t *testing.T) {
	summary, err := NewFrequencySummarizer().Summarize("  just a heading  ", 3)
	require.NoError(t, err)
	assert.Equal(t, "just a heading", summary)
}

func TestSummarize_FewerSentencesThanRequested(t *testing.T) {
	summary, err := NewFrequencySummarizer().Summarize("Only one.", 5)
	require.NoError(t, err)
	assert.Equal(t, "Only one.", summary)
}
