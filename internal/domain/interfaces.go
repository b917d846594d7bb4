package domain

import (
	"context"
	"errors"
)

// ErrRetrievalUnavailable is returned when the similarity-search backend
// cannot be reached or failed to initialize.
var ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

// Document represents one unit of pre-extracted corpus text, usually a single PDF page.
type Document struct {
	ID        string
	Source    string
	Page      *int
	PageLabel string
	Content   string
}

// Chunk is a semantically meaningful part of a document used for indexing.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
	Source     string
	Page       *int
	PageLabel  string
}

// SearchResult represents a matching chunk with its cosine similarity.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Searcher is the similarity-search service consumed by the retrieval core.
// Distances are "lower is more similar".
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]RetrievedChunk, error)
}

// ImageCatalog provides the read-only set of images extracted from the corpus.
type ImageCatalog interface {
	AllImages() ([]ImageEntry, error)
}

// Generator turns a prompt into a language-model response.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
