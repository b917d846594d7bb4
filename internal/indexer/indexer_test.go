package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endochat/internal/chunker"
	"endochat/internal/embedding/tfidf"
	"endochat/internal/summarizer"
	"endochat/internal/vectorstore"
	"endochat/internal/vectorstore/memory"
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	pages := `{"source":"docs/hypoglycemie.pdf","page":11,"page_label":"12","content":"Hypoglycemia means blood glucose below 70 mg/dL. Take 15 g of fast sugar."}
{"source":"docs/hypoglycemie.pdf","page":12,"page_label":13,"content":"Recheck glucose after 15 minutes."}

{"source":"docs/thyroide.pdf","page":0,"content":"The thyroid gland produces hormones."}
{"source":"docs/empty.pdf","page":1,"content":"   "}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages.jsonl"), []byte(pages), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("Insulin lowers blood sugar.\fMetformin is a first-line drug."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.md"), []byte("# nothing"), 0o644))
	return dir
}

func TestLoadDocuments(t *testing.T) {
	dir := writeCorpus(t)
	docs, err := LoadDocuments([]string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	require.Len(t, docs, 5)

	// notes.txt sorts before pages.jsonl.
	assert.Equal(t, filepath.Join(dir, "notes.txt"), docs[0].Source)
	require.NotNil(t, docs[0].Page)
	assert.Equal(t, 1, *docs[0].Page)
	assert.Equal(t, 2, *docs[1].Page)

	assert.Equal(t, "docs/hypoglycemie.pdf", docs[2].Source)
	assert.Equal(t, 11, *docs[2].Page)
	assert.Equal(t, "12", docs[2].PageLabel)
	assert.Equal(t, "13", docs[3].PageLabel, "numeric labels are accepted")
	assert.Empty(t, docs[4].PageLabel)

	ids := map[string]struct{}{}
	for _, d := range docs {
		ids[d.ID] = struct{}{}
	}
	assert.Len(t, ids, len(docs))
}

func TestLoadDocuments_Errors(t *testing.T) {
	_, err := LoadDocuments([]string{filepath.Join(t.TempDir(), "*.txt")})
	assert.ErrorIs(t, err, ErrNoDocuments)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.jsonl"), []byte("{oops\n"), 0o644))
	_, err = LoadDocuments([]string{filepath.Join(dir, "bad.jsonl")})
	assert.ErrorContains(t, err, "bad.jsonl:1")
}

func newTestIndexer(store vectorstore.Storage) *Indexer {
	return New(chunker.NewSentenceChunker(2, 0), tfidf.NewEmbedder(), store, summarizer.NewFrequencySummarizer(), 2)
}

func TestIndexer_IndexAndSearch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	ix := newTestIndexer(store)

	report, err := ix.IndexPaths(ctx, []string{filepath.Join(writeCorpus(t), "*")})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Documents)
	assert.Equal(t, 5, report.Chunks)
	assert.Positive(t, report.Dimension)
	assert.NotEmpty(t, report.Summary)
	assert.Equal(t, 5, store.Len())

	searcher, err := ix.Factory(nil, false)(ctx)
	require.NoError(t, err)
	res, err := searcher.Search(ctx, "hypoglycemia fast sugar", 3)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Equal(t, "docs/hypoglycemie.pdf", res[0].Metadata.SourcePath)
	assert.Equal(t, "12", res[0].Metadata.PageLabel)
	assert.Less(t, res[0].Distance, 1.5)
}

func TestIndexer_ReindexReplacesContent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	ix := newTestIndexer(store)
	dir := writeCorpus(t)

	_, err := ix.IndexPaths(ctx, []string{filepath.Join(dir, "*")})
	require.NoError(t, err)
	_, err = ix.IndexPaths(ctx, []string{filepath.Join(dir, "notes.txt")})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestIndexer_FactoryRebuilds(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	ix := newTestIndexer(store)

	searcher, err := ix.Factory([]string{filepath.Join(writeCorpus(t), "*")}, true)(ctx)
	require.NoError(t, err)
	res, err := searcher.Search(ctx, "thyroid hormones", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "docs/thyroide.pdf", res[0].Metadata.SourcePath)

	_, err = ix.Factory([]string{filepath.Join(t.TempDir(), "*.txt")}, true)(ctx)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

type emptyStore struct{ *memory.Storage }

func (*emptyStore) Dimension() int { return 0 }

func TestIndexer_FactoryRequiresExistingIndex(t *testing.T) {
	ix := newTestIndexer(&emptyStore{memory.NewStorage()})
	_, err := ix.Factory(nil, false)(context.Background())
	assert.ErrorIs(t, err, ErrEmptyIndex)
}
