package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"endochat/internal/observability"
	"endochat/internal/storage"
)

const (
	DefaultTTL          = 30 * 24 * time.Hour
	DefaultInterval     = time.Hour
	DefaultPollTick     = 60 * time.Second
	DefaultErrorBackoff = 60 * time.Second
)

// Conversations is the view of the conversation store the sweeper needs.
type Conversations interface {
	Keys() ([]string, error)
	LastUpdated(key string) (time.Time, error)
}

// Records lists and removes raw record files.
type Records interface {
	Records() ([]storage.Record, error)
	Remove(name string) (bool, error)
}

type Config struct {
	TTL          time.Duration
	Interval     time.Duration
	PollTick     time.Duration
	ErrorBackoff time.Duration
	Now          func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.PollTick <= 0 || c.PollTick > DefaultPollTick {
		c.PollTick = DefaultPollTick
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Report summarizes one sweep.
type Report struct {
	Scanned  int
	Expired  int
	Siblings int
	Orphans  int
}

// Sweeper deletes expired conversations with their attribution records and
// removes attribution records whose conversation is gone.
type Sweeper struct {
	conversations Conversations
	records       Records
	cfg           Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(conversations Conversations, records Records, cfg Config) *Sweeper {
	return &Sweeper{conversations: conversations, records: records, cfg: cfg.withDefaults()}
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("sweeper is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	log.Info().
		Dur("ttl", s.cfg.TTL).
		Dur("interval", s.cfg.Interval).
		Msg("Retention sweeper started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is not running")
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("Retention sweeper stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		wait := s.cfg.Interval
		if _, err := s.RunOnce(); err != nil {
			log.Error().Err(err).Dur("backoff", s.cfg.ErrorBackoff).Msg("Retention sweep failed")
			wait = s.cfg.ErrorBackoff
		}
		if !s.sleep(ctx, wait) {
			return
		}
	}
}

// sleep waits d in PollTick steps and reports false once ctx is done.
func (s *Sweeper) sleep(ctx context.Context, d time.Duration) bool {
	ticker := time.NewTicker(s.cfg.PollTick)
	defer ticker.Stop()
	for remaining := d; remaining > 0; remaining -= s.cfg.PollTick {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return ctx.Err() == nil
}

// RunOnce performs a TTL sweep followed by an orphan sweep. Failures on
// individual files are joined into the returned error; the sweep goes on.
func (s *Sweeper) RunOnce() (report Report, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retention sweep panicked: %v", r)
		}
		observability.RecordSweep(time.Since(start), err == nil)
	}()

	ttlErr := s.sweepExpired(&report)
	orphanErr := s.sweepOrphans(&report)
	err = errors.Join(ttlErr, orphanErr)

	if report.Expired > 0 || report.Orphans > 0 {
		log.Info().
			Int("scanned", report.Scanned).
			Int("expired", report.Expired).
			Int("siblings", report.Siblings).
			Int("orphans", report.Orphans).
			Msg("Retention sweep deleted records")
	}
	return report, err
}

func (s *Sweeper) sweepExpired(report *Report) error {
	keys, err := s.conversations.Keys()
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	now := s.cfg.Now()
	var errs []error
	for _, key := range keys {
		report.Scanned++
		updated, err := s.conversations.LastUpdated(key)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("age of %s: %w", key, err))
			}
			continue
		}
		age := now.Sub(updated)
		if age <= s.cfg.TTL {
			continue
		}

		// Keys come from file names, which need not be sanitized ids, so
		// the files are removed by name.
		removed, err := s.records.Remove(storage.FileName(key, storage.KindConversation))
		if err != nil {
			errs = append(errs, err)
		} else if removed {
			report.Expired++
			observability.RecordSweepDeletion(storage.KindConversation.String(), "ttl")
			log.Debug().Str("user_key", key).Dur("age", age).Msg("Expired conversation deleted")
		}
		for _, kind := range []storage.Kind{storage.KindSources, storage.KindImages} {
			removed, err := s.records.Remove(storage.FileName(key, kind))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if removed {
				report.Siblings++
				observability.RecordSweepDeletion(kind.String(), "ttl")
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Sweeper) sweepOrphans(report *Report) error {
	records, err := s.records.Records()
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	owners := make(map[string]struct{})
	for _, r := range records {
		if r.Kind == storage.KindConversation {
			owners[r.Key] = struct{}{}
		}
	}

	var errs []error
	for _, r := range records {
		if r.Kind == storage.KindConversation {
			continue
		}
		if _, ok := owners[r.Key]; ok {
			continue
		}
		removed, err := s.records.Remove(r.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			report.Orphans++
			observability.RecordSweepDeletion(r.Kind.String(), "orphan")
			log.Debug().Str("file", r.Name).Msg("Orphaned record deleted")
		}
	}
	return errors.Join(errs...)
}
