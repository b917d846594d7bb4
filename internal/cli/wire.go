package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"endochat/internal/chunker"
	"endochat/internal/config"
	"endochat/internal/domain"
	"endochat/internal/embedding"
	"endochat/internal/embedding/openai"
	"endochat/internal/embedding/tfidf"
	"endochat/internal/generator"
	"endochat/internal/images"
	"endochat/internal/indexer"
	"endochat/internal/retention"
	"endochat/internal/service"
	"endochat/internal/storage"
	"endochat/internal/summarizer"
	"endochat/internal/vectorstore"
	"endochat/internal/vectorstore/memory"
	"endochat/internal/vectorstore/qdrant"
	"endochat/internal/vectorstore/sqlitevec"
)

// app holds the components shared by every command.
type app struct {
	cfg           *config.AppConfig
	dir           *storage.Dir
	conversations *storage.ConversationStore
	attribution   *storage.AttributionStore
	catalog       *images.FileCatalog
	matcher       *images.Matcher
	indexer       *indexer.Indexer
	search        *vectorstore.Lazy
	closers       []func() error
}

func newApp(cfg *config.AppConfig) (*app, error) {
	dir, err := storage.OpenDir(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}

	emb, err := buildEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	ch, err := buildChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	sum, err := buildSummarizer(cfg.Summarizer)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := buildStore(cfg.VectorStore)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:           cfg,
		dir:           dir,
		conversations: storage.NewConversationStore(dir),
		attribution:   storage.NewAttributionStore(dir),
		catalog:       images.NewFileCatalog(cfg.Images.MetadataPath),
		indexer:       indexer.New(ch, emb, store, sum, cfg.Summarizer.MaxSentences),
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}
	a.matcher = images.NewMatcher(a.catalog, keywordSets(cfg.Images.Keywords))

	// A TF-IDF vocabulary lives only in memory, as does the memory store.
	rebuild := cfg.Embedder.Type == "tfidf" || cfg.VectorStore.Type == "memory"
	a.search = vectorstore.NewLazy(a.indexer.Factory(cfg.Corpus.Paths, rebuild))

	log.Debug().
		Str("embedder", emb.Name()).
		Str("vector_store", cfg.VectorStore.Type).
		Bool("rebuild", rebuild).
		Str("storage_dir", dir.Path()).
		Msg("Components assembled")
	return a, nil
}

// chat builds the full chat pipeline. It needs the generator API key.
func (a *app) chat() (*service.Chat, error) {
	mode, err := service.ParseFinalizerMode(a.cfg.Finalizer.Mode)
	if err != nil {
		return nil, err
	}
	gen, err := generator.NewOpenAI(generator.Config{
		BaseURL:     a.cfg.Generator.BaseURL,
		APIKeyEnv:   a.cfg.Generator.APIKeyEnv,
		Model:       a.cfg.Generator.Model,
		Temperature: a.cfg.Generator.Temperature,
		Timeout:     time.Duration(a.cfg.Generator.TimeoutSecs) * time.Second,
		MaxRetries:  2,
	})
	if err != nil {
		return nil, fmt.Errorf("generator init failed: %w", err)
	}
	assembler := service.NewAssembler(a.search, a.matcher, a.conversations, a.attribution, service.AssemblerConfig{
		TopK:              a.cfg.Retrieval.TopK,
		DistanceThreshold: a.cfg.Retrieval.DistanceThreshold,
		HistoryWindow:     a.cfg.Retrieval.HistoryWindow,
	})
	finalizer := service.NewFinalizer(mode, a.attribution, a.conversations)
	return service.NewChat(assembler, gen, finalizer, a.conversations), nil
}

func (a *app) sweeper() *retention.Sweeper {
	return retention.New(a.conversations, a.dir, retention.Config{
		TTL:          a.cfg.Retention.TTL,
		Interval:     a.cfg.Retention.Interval,
		PollTick:     a.cfg.Retention.PollTick,
		ErrorBackoff: a.cfg.Retention.ErrorBackoff,
	})
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func buildEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func buildChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "sentence", "":
		return chunker.NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
	}
}

func buildSummarizer(cfg config.SummarizerConfig) (domain.Summarizer, error) {
	switch cfg.Type {
	case "frequency", "":
		return summarizer.NewFrequencySummarizer(), nil
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Type)
	}
}

// buildStore returns the vector store and, for stores holding a handle, its
// close function.
func buildStore(cfg config.VectorStoreConfig) (vectorstore.Storage, func() error, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.NewStorage(), nil, nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, nil, errors.New("qdrant config missing")
		}
		var apiKey string
		if cfg.Qdrant.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.Qdrant.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     apiKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil, nil
	case "sqlitevec":
		if cfg.SQLiteVec == nil {
			return nil, nil, errors.New("sqlitevec config missing")
		}
		st, err := sqlitevec.Open(cfg.SQLiteVec.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

// keywordSets converts configured keywords. An empty list keeps the
// built-in sets.
func keywordSets(cfg []config.KeywordConfig) []images.KeywordSet {
	if len(cfg) == 0 {
		return nil
	}
	sets := make([]images.KeywordSet, 0, len(cfg))
	for _, k := range cfg {
		sets = append(sets, images.KeywordSet{Filename: k.Filename, Keywords: k.Keywords})
	}
	return sets
}
