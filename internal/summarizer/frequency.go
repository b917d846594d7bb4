package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered).
// The indexer uses it to describe a freshly indexed corpus.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Summarize returns up to maxSentences sentences, in document order, chosen by
// the normalized frequency of their content words.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		return strings.TrimSpace(text), nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, strings.Join(strings.Fields(sentences[idx]), " "))
	}
	return strings.Join(out, " "), nil
}

// tokens returns the lower-cased content words of text.
func (s *FrequencySummarizer) tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"le", "la", "les", "un", "une", "des", "du", "de", "et", "ou", "est", "sont", "dans", "pour", "par", "avec", "que", "qui", "en", "au", "aux", "ce", "cette", "il", "elle", "se", "pas", "plus",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
