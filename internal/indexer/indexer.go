package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"endochat/internal/domain"
	"endochat/internal/embedding"
	"endochat/internal/observability"
	"endochat/internal/vectorstore"
)

// ErrEmptyIndex is returned when a persistent store has never been indexed.
var ErrEmptyIndex = errors.New("vector index is empty, run the index command first")

const upsertBatch = 256

// Report describes a finished indexing run.
type Report struct {
	Documents int
	Chunks    int
	Dimension int
	Summary   string
}

// Indexer chunks, embeds and stores the corpus.
type Indexer struct {
	chunker          domain.Chunker
	embedder         embedding.Embedder
	store            vectorstore.Storage
	summarizer       domain.Summarizer
	summarySentences int
}

// New wires an indexer. summarizer may be nil.
func New(chunker domain.Chunker, embedder embedding.Embedder, store vectorstore.Storage, summarizer domain.Summarizer, summarySentences int) *Indexer {
	return &Indexer{chunker: chunker, embedder: embedder, store: store, summarizer: summarizer, summarySentences: summarySentences}
}

// Index replaces the store's content with the given documents.
func (ix *Indexer) Index(ctx context.Context, docs []domain.Document) (Report, error) {
	var (
		chunks []domain.Chunk
		texts  []string
		corpus strings.Builder
	)
	for _, d := range docs {
		cs, err := ix.chunker.Chunk(d)
		if err != nil {
			return Report{}, fmt.Errorf("chunk %s: %w", d.Source, err)
		}
		for _, c := range cs {
			chunks = append(chunks, c)
			texts = append(texts, c.Text)
		}
		corpus.WriteString("\n")
		corpus.WriteString(d.Content)
	}
	if len(chunks) == 0 {
		return Report{}, ErrNoDocuments
	}

	if err := ix.embedder.Prepare(ctx, texts); err != nil {
		return Report{}, fmt.Errorf("prepare embedder: %w", err)
	}
	vectors := make([][]float64, len(chunks))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		vec, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			return Report{}, fmt.Errorf("embed chunk %s: %w", chunks[i].ChunkID, err)
		}
		vectors[i] = vec
	}
	// Remote models only reveal their dimension after the first embedding.
	dim := len(vectors[0])
	if dim == 0 {
		return Report{}, errors.New("embedder returned empty vectors")
	}

	if err := ix.store.Clear(ctx); err != nil {
		return Report{}, fmt.Errorf("clear store: %w", err)
	}
	if err := ix.store.Init(ctx, dim); err != nil {
		return Report{}, fmt.Errorf("init store: %w", err)
	}
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		if err := ix.store.Upsert(ctx, chunks[start:end], vectors[start:end]); err != nil {
			return Report{}, fmt.Errorf("upsert chunks: %w", err)
		}
	}
	observability.SetIndexedChunks(len(chunks))

	report := Report{Documents: len(docs), Chunks: len(chunks), Dimension: dim}
	if ix.summarizer != nil {
		summary, err := ix.summarizer.Summarize(corpus.String(), ix.summarySentences)
		if err != nil {
			log.Warn().Err(err).Msg("Corpus summary failed")
		}
		report.Summary = summary
	}

	log.Info().
		Str("embedder", ix.embedder.Name()).
		Int("documents", report.Documents).
		Int("chunks", report.Chunks).
		Int("dimension", dim).
		Msg("Corpus indexed")
	return report, nil
}

// IndexPaths loads the corpus files and indexes them.
func (ix *Indexer) IndexPaths(ctx context.Context, patterns []string) (Report, error) {
	docs, err := LoadDocuments(patterns)
	if err != nil {
		return Report{}, err
	}
	return ix.Index(ctx, docs)
}

// Factory returns a search-index constructor for vectorstore.Lazy. With
// rebuild set the corpus is indexed on first use, as an in-memory store or a
// TF-IDF vocabulary requires. Otherwise the store must already hold an index.
func (ix *Indexer) Factory(patterns []string, rebuild bool) vectorstore.Factory {
	return func(ctx context.Context) (domain.Searcher, error) {
		if rebuild {
			if _, err := ix.IndexPaths(ctx, patterns); err != nil {
				return nil, err
			}
		} else if d, ok := ix.store.(interface{ Dimension() int }); ok && d.Dimension() == 0 {
			return nil, ErrEmptyIndex
		}
		return vectorstore.NewIndex(ix.embedder, ix.store)
	}
}
