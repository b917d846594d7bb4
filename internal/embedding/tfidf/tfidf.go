package tfidf

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Embedder implements a simple TF-IDF vectorizer.
// It builds a vocabulary from the corpus and computes IDF values.
type Embedder struct {
	mu         sync.RWMutex
	vocabulary map[string]int
	idf        []float64
	dimension  int
	prepared   bool
	stopwords  map[string]struct{}
}

// NewEmbedder creates an unprepared TF-IDF embedder.
func NewEmbedder() *Embedder {
	return &Embedder{
		vocabulary: make(map[string]int),
		stopwords:  defaultStopwords(),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// Prepare builds the vocabulary and IDF values from the provided corpus.
func (e *Embedder) Prepare(ctx context.Context, corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen := make(map[string]struct{})
		for _, tok := range e.tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	// Stable ordering keeps vectors comparable across runs over the same corpus.
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if len(terms) == 0 {
		return errors.New("no tokens found in corpus; ensure tokenizer supports your language")
	}

	vocabulary := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		vocabulary[term] = i
		// Smoothed IDF
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}

	e.mu.Lock()
	e.vocabulary = vocabulary
	e.idf = idf
	e.dimension = len(terms)
	e.prepared = true
	e.mu.Unlock()
	return nil
}

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

// Embed computes the L2-normalized TF-IDF embedding for the given text.
// Text sharing no term with the vocabulary yields the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.prepared {
		return nil, errors.New("tfidf embedder not prepared")
	}
	vec := make([]float64, e.dimension)
	tf := make(map[int]int)
	total := 0
	for _, tok := range e.tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec, nil
	}
	for idx, count := range tf {
		vec[idx] = float64(count) / float64(total) * e.idf[idx]
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *Embedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		// English
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		// French
		"le", "la", "les", "un", "une", "des", "du", "de", "et", "ou", "mais", "donc", "car", "ni", "que", "qui", "quoi", "dans", "sur", "sous", "pour", "par", "avec", "sans", "est", "sont", "été", "être", "il", "elle", "ils", "elles", "ce", "cette", "ces", "au", "aux", "en", "ne", "pas", "plus", "se", "sa", "son", "ses", "leur", "leurs", "l", "d",
		// Arabic
		"في", "من", "على", "إلى", "عن", "مع", "هذا", "هذه", "ذلك", "التي", "الذي", "هو", "هي", "و", "أو", "ثم", "لا", "ما",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
