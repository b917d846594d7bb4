package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endochat/internal/domain"
	"endochat/internal/images"
	"endochat/internal/service"
	"endochat/internal/storage"
)

type fakeSearcher struct {
	chunks []domain.RetrievedChunk
	err    error
	panics bool
	calls  int
	lastK  int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int) ([]domain.RetrievedChunk, error) {
	f.calls++
	f.lastK = k
	if f.panics {
		panic("index exploded")
	}
	return f.chunks, f.err
}

type fixture struct {
	dir  string
	conv *storage.ConversationStore
	attr *storage.AttributionStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	path := t.TempDir()
	d, err := storage.OpenDir(path)
	require.NoError(t, err)
	return fixture{dir: path, conv: storage.NewConversationStore(d), attr: storage.NewAttributionStore(d)}
}

func (f fixture) exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.dir, name))
	return err == nil
}

func page(n int) *int { return &n }

func chunk(content, source string, p *int, distance float64) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		Content:  content,
		Metadata: domain.ChunkMetadata{SourcePath: source, Page: p},
		Distance: distance,
	}
}

var catalog = images.StaticCatalog{
	{Filename: "gestion_hypoglycemie.png", SourcePDF: "guide.pdf", PageNumber: 12},
	{Filename: "objectifs_glycemiques.png", SourcePDF: "guide.pdf", PageNumber: 3},
}

func TestAssemble_GroundedPromptAndSources(t *testing.T) {
	fx := newFixture(t)
	searcher := &fakeSearcher{chunks: []domain.RetrievedChunk{
		chunk("Hypoglycemia is a blood glucose below 70 mg/dL.", "corpus/guide.pdf", page(12), 0.4),
		chunk("Treat with 15 g of fast sugar.", "corpus/guide.pdf", page(12), 0.6),
		chunk("Glucagon can be injected.", "corpus/urgences.pdf", page(2), 0.9),
		chunk("Unrelated passage about bones.", "corpus/os.pdf", page(1), 1.6),
	}}
	a := service.NewAssembler(searcher, images.NewMatcher(catalog, nil), fx.conv, fx.attr, service.DefaultAssemblerConfig())

	history := domain.History{{Role: domain.RoleUser, Content: "hi"}, {Role: domain.RoleAssistant, Content: "Hello!"}}
	res := a.Assemble(context.Background(), service.AssembleRequest{
		Message:  "What should I do about hypoglycemia?",
		History:  history,
		UserID:   "alice",
		Language: domain.LanguageFrench,
	})

	assert.False(t, res.Fallback)
	assert.False(t, res.Greeting)
	assert.Equal(t, 5, searcher.lastK)
	assert.Contains(t, res.Prompt, "You are EndoChat")
	assert.Contains(t, res.Prompt, "Respond in French")
	assert.Contains(t, res.Prompt, "Hypoglycemia is a blood glucose below 70 mg/dL.")
	assert.Contains(t, res.Prompt, "Glucagon can be injected.")
	assert.NotContains(t, res.Prompt, "Unrelated passage about bones.")
	assert.Contains(t, res.Prompt, "these sources: guide.pdf, urgences.pdf.")
	assert.Contains(t, res.Prompt, "User: hi\nAssistant: Hello!")
	assert.Contains(t, res.Prompt, "User's latest message: What should I do about hypoglycemia?")
	assert.Contains(t, res.Prompt, "internal detail")

	want := []domain.Source{
		{Filename: "guide.pdf", Page: domain.PageNumber(12)},
		{Filename: "urgences.pdf", Page: domain.PageNumber(2)},
	}
	assert.Equal(t, want, res.Sources)
	stored, err := fx.attr.LoadSources("alice")
	require.NoError(t, err)
	assert.Equal(t, want, stored)

	imgs, err := fx.attr.LoadImages("alice")
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "gestion_hypoglycemie.png", imgs[0].Filename)

	require.Len(t, res.History, 3)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "What should I do about hypoglycemia?"}, res.History[2])
	assert.Len(t, history, 2, "caller history is not modified")
	assert.Equal(t, res.History, fx.conv.Load("alice"))
}

func TestAssemble_ThresholdIsStrict(t *testing.T) {
	fx := newFixture(t)
	searcher := &fakeSearcher{chunks: []domain.RetrievedChunk{
		chunk("At the threshold.", "a.pdf", page(1), 1.5),
		chunk("Just above.", "b.pdf", page(1), 1.6),
	}}
	a := service.NewAssembler(searcher, nil, fx.conv, fx.attr, service.DefaultAssemblerConfig())

	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "What is HbA1c?", UserID: "bob"})

	assert.False(t, res.Fallback)
	assert.Empty(t, res.Sources)
	assert.NotContains(t, res.Prompt, "At the threshold.")
	assert.NotContains(t, res.Prompt, "Just above.")
	assert.Contains(t, res.Prompt, "No passage from the endocrinology documents matched")
	assert.NotContains(t, res.Prompt, "these sources:")
	assert.False(t, fx.exists("bob_sources.json"))
}

func TestAssemble_PagelessChunksAttributedOnce(t *testing.T) {
	fx := newFixture(t)
	searcher := &fakeSearcher{chunks: []domain.RetrievedChunk{
		chunk("one", "notes/diet.txt", nil, 0.2),
		chunk("two", "notes/diet.txt", nil, 0.3),
		chunk("three", "", nil, 0.3),
		{Content: "four", Metadata: domain.ChunkMetadata{SourcePath: "guide.pdf", PageLabel: "xi"}, Distance: 0.5},
	}}
	a := service.NewAssembler(searcher, nil, fx.conv, fx.attr, service.DefaultAssemblerConfig())

	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "diet", UserID: "carol"})

	assert.Equal(t, []domain.Source{
		{Filename: "diet.txt"},
		{Filename: "guide.pdf", Page: domain.PageLabel("xi")},
	}, res.Sources)
	assert.Contains(t, res.Prompt, "three")
}

func TestAssemble_ImagesRecordRemovedWhenNothingMatches(t *testing.T) {
	fx := newFixture(t)
	a := service.NewAssembler(&fakeSearcher{}, images.NewMatcher(catalog, nil), fx.conv, fx.attr, service.DefaultAssemblerConfig())
	ctx := context.Background()

	a.Assemble(ctx, service.AssembleRequest{Message: "Managing hypoglycemia", UserID: "dave"})
	assert.True(t, fx.exists("dave_images.json"))

	a.Assemble(ctx, service.AssembleRequest{Message: "What is diabetes?", UserID: "dave"})
	assert.False(t, fx.exists("dave_images.json"))
}

func TestAssemble_EmptyCatalogIsSafe(t *testing.T) {
	fx := newFixture(t)
	a := service.NewAssembler(&fakeSearcher{}, images.NewMatcher(images.StaticCatalog{}, nil), fx.conv, fx.attr, service.DefaultAssemblerConfig())

	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "hypoglycemia", UserID: "erin"})

	assert.False(t, res.Fallback)
	assert.Empty(t, res.Images)
	assert.False(t, fx.exists("erin_images.json"))
}

func TestAssemble_FallbackOnUnavailableRetrieval(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.attr.SaveSources("frank", []domain.Source{{Filename: "old.pdf"}}))
	searcher := &fakeSearcher{err: domain.ErrRetrievalUnavailable}
	a := service.NewAssembler(searcher, images.NewMatcher(catalog, nil), fx.conv, fx.attr, service.DefaultAssemblerConfig())

	var res service.AssembleResult
	require.NotPanics(t, func() {
		res = a.Assemble(context.Background(), service.AssembleRequest{Message: "?", UserID: "frank", Language: domain.LanguageArabic})
	})

	assert.True(t, res.Fallback)
	assert.Contains(t, res.Prompt, "دائما الرد باللغة العربية.")
	assert.Contains(t, res.Prompt, "User's question: ?")
	assert.Contains(t, res.Prompt, "general knowledge")

	stored, err := fx.attr.LoadSources("frank")
	require.NoError(t, err)
	assert.Equal(t, []domain.Source{{Filename: "old.pdf"}}, stored, "fallback writes no attribution")
	assert.False(t, fx.exists("frank_images.json"))

	assert.Equal(t, domain.History{{Role: domain.RoleUser, Content: "?"}}, fx.conv.Load("frank"))
}

func TestAssemble_FallbackOnPanicAndMissingSearcher(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	panicking := service.NewAssembler(&fakeSearcher{panics: true}, nil, fx.conv, fx.attr, service.DefaultAssemblerConfig())
	res := panicking.Assemble(ctx, service.AssembleRequest{Message: "x", UserID: "gina"})
	assert.True(t, res.Fallback)

	none := service.NewAssembler(nil, nil, nil, nil, service.DefaultAssemblerConfig())
	res = none.Assemble(ctx, service.AssembleRequest{Message: "x"})
	assert.True(t, res.Fallback)
	assert.Len(t, res.History, 1)
}

func TestAssemble_GreetingUsesShortTemplate(t *testing.T) {
	fx := newFixture(t)
	searcher := &fakeSearcher{chunks: []domain.RetrievedChunk{chunk("Hello is a word.", "a.pdf", page(1), 0.1)}}
	a := service.NewAssembler(searcher, nil, fx.conv, fx.attr, service.DefaultAssemblerConfig())

	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "Bonjour !", UserID: "hana"})

	assert.True(t, res.Greeting)
	assert.Equal(t, 1, searcher.calls, "retrieval still runs for greetings")
	assert.Contains(t, res.Prompt, "The user greeted you: Bonjour !")
	assert.NotContains(t, res.Prompt, "Hello is a word.")
	assert.Empty(t, res.Sources)
}

func TestAssemble_GreetingClearsSourcesRecord(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.attr.SaveSources("hana", []domain.Source{{Filename: "old.pdf"}}))
	searcher := &fakeSearcher{chunks: []domain.RetrievedChunk{chunk("Insulin lowers glucose.", "guide.pdf", page(3), 0.4)}}
	a := service.NewAssembler(searcher, nil, fx.conv, fx.attr, service.DefaultAssemblerConfig())

	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "hello", UserID: "hana"})

	assert.True(t, res.Greeting)
	assert.False(t, fx.exists("hana_sources.json"))
}

type panickingMatcher struct{}

func (panickingMatcher) Match(string, domain.Language) []domain.ImageMatch {
	panic("catalog exploded")
}

func TestAssemble_LatePanicWritesNoRecords(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.attr.SaveSources("ines", []domain.Source{{Filename: "old.pdf"}}))
	searcher := &fakeSearcher{chunks: []domain.RetrievedChunk{chunk("Insulin lowers glucose.", "guide.pdf", page(3), 0.4)}}
	a := service.NewAssembler(searcher, panickingMatcher{}, fx.conv, fx.attr, service.DefaultAssemblerConfig())

	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "What does insulin do?", UserID: "ines"})

	assert.True(t, res.Fallback)
	stored, err := fx.attr.LoadSources("ines")
	require.NoError(t, err)
	assert.Equal(t, []domain.Source{{Filename: "old.pdf"}}, stored)
	assert.False(t, fx.exists("ines_images.json"))
	assert.Len(t, fx.conv.Load("ines"), 1)
}

func TestAssemble_HistoryWindow(t *testing.T) {
	var history domain.History
	for i := 0; i < 12; i++ {
		history = history.Append(domain.Turn{Role: domain.RoleUser, Content: string(rune('a' + i))})
	}
	a := service.NewAssembler(&fakeSearcher{}, nil, nil, nil, service.AssemblerConfig{HistoryWindow: 2})

	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "q", History: history})

	assert.Contains(t, res.Prompt, "User: k\nUser: l")
	assert.NotContains(t, res.Prompt, "User: j")
}

func TestAssemble_StorageFailureStillReturnsPrompt(t *testing.T) {
	a := service.NewAssembler(&fakeSearcher{}, nil, failingConversations{}, nil, service.DefaultAssemblerConfig())
	res := a.Assemble(context.Background(), service.AssembleRequest{Message: "What is insulin?", UserID: "ivan"})
	assert.False(t, res.Fallback)
	assert.Len(t, res.History, 1)
}

type failingConversations struct{}

func (failingConversations) Load(string) domain.History { return nil }
func (failingConversations) Save(string, domain.History) error {
	return errors.New("disk full")
}
