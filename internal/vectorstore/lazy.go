package vectorstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"endochat/internal/domain"
	"endochat/internal/observability"
)

// Factory builds the searcher on first use.
type Factory func(ctx context.Context) (domain.Searcher, error)

// Lazy defers construction of a searcher until the first query. Concurrent
// first queries share a single construction. A failed construction is
// reported as domain.ErrRetrievalUnavailable and retried on the next query.
type Lazy struct {
	factory Factory
	group   singleflight.Group
	ready   atomic.Pointer[domain.Searcher]
}

func NewLazy(factory Factory) *Lazy {
	return &Lazy{factory: factory}
}

// Search implements domain.Searcher.
func (l *Lazy) Search(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, query, k)
}

// Warm constructs the searcher ahead of the first query.
func (l *Lazy) Warm(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

// Ready reports whether construction has succeeded.
func (l *Lazy) Ready() bool { return l.ready.Load() != nil }

func (l *Lazy) get(ctx context.Context) (domain.Searcher, error) {
	if s := l.ready.Load(); s != nil {
		return *s, nil
	}
	v, err, _ := l.group.Do("init", func() (any, error) {
		if s := l.ready.Load(); s != nil {
			return *s, nil
		}
		// Construction outlives any single caller.
		s, err := l.factory(context.WithoutCancel(ctx))
		observability.RecordIndexInit(err == nil)
		if err != nil {
			log.Error().Err(err).Msg("Search index initialization failed")
			return nil, err
		}
		l.ready.Store(&s)
		log.Info().Msg("Search index ready")
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrievalUnavailable, err)
	}
	return v.(domain.Searcher), nil
}
