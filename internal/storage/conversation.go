package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"endochat/internal/domain"
	"endochat/internal/observability"
)

// envelope is the canonical on-disk conversation record.
type envelope struct {
	History     domain.History `json:"history"`
	LastUpdated float64        `json:"last_updated"`
}

type conversationRecord struct {
	history     domain.History
	lastUpdated time.Time
	stamped     bool
	legacy      bool
}

// ConversationStore persists one conversation history per user as K.json.
type ConversationStore struct {
	dir *Dir
	now func() time.Time
}

func NewConversationStore(dir *Dir) *ConversationStore {
	return &ConversationStore{dir: dir, now: time.Now}
}

// Load returns the stored history for userID. Missing, unreadable and
// malformed records all yield an empty history; malformed files stay on disk.
// Records in a legacy shape are rewritten in canonical form, keeping their
// original last-updated time.
func (s *ConversationStore) Load(userID string) domain.History {
	key := SanitizeKey(userID)
	if key == "" {
		return domain.History{}
	}
	name := FileName(key, KindConversation)
	start := time.Now()

	rec, err := s.read(name)
	observability.RecordStoreOp("conversation", "load", time.Since(start), err == nil || errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrCorrupt))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return domain.History{}
	case errors.Is(err, ErrCorrupt):
		observability.RecordStoreCorruption("conversation")
		log.Warn().Err(err).Str("user_key", key).Msg("Conversation record is malformed, starting empty")
		return domain.History{}
	default:
		log.Error().Err(err).Str("user_key", key).Msg("Failed to read conversation record")
		return domain.History{}
	}

	if rec.legacy {
		if err := s.migrate(name); err != nil {
			log.Warn().Err(err).Str("user_key", key).Msg("Failed to migrate legacy conversation record")
		} else {
			log.Info().Str("user_key", key).Int("turns", len(rec.history)).Msg("Migrated legacy conversation record")
		}
	}
	return rec.history
}

// Save replaces the stored history and stamps it with the current time.
func (s *ConversationStore) Save(userID string, history domain.History) error {
	key := SanitizeKey(userID)
	if key == "" {
		return ErrEmptyKey
	}
	if history == nil {
		history = domain.History{}
	}
	name := FileName(key, KindConversation)
	start := time.Now()

	unlock := s.dir.lock(name)
	err := s.dir.writeJSON(name, envelope{History: history, LastUpdated: unixSeconds(s.now())})
	unlock()

	observability.RecordStoreOp("conversation", "save", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", key, err)
	}
	return nil
}

// Delete removes the conversation record and reports whether it existed.
// Sibling attribution records are left to the caller.
func (s *ConversationStore) Delete(userID string) bool {
	key := SanitizeKey(userID)
	if key == "" {
		return false
	}
	removed, err := s.dir.Remove(FileName(key, KindConversation))
	if err != nil {
		log.Error().Err(err).Str("user_key", key).Msg("Failed to delete conversation record")
		return false
	}
	return removed
}

// Keys lists the sanitized keys that own a conversation record.
func (s *ConversationStore) Keys() ([]string, error) {
	records, err := s.dir.Records()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, r := range records {
		if r.Kind == KindConversation {
			keys = append(keys, r.Key)
		}
	}
	return keys, nil
}

// LastUpdated returns the envelope timestamp of a record, or the file
// modification time when the record has none or cannot be decoded.
func (s *ConversationStore) LastUpdated(key string) (time.Time, error) {
	name := FileName(key, KindConversation)
	rec, err := s.read(name)
	if err == nil && rec.stamped {
		return rec.lastUpdated, nil
	}
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return time.Time{}, err
	}
	info, statErr := s.dir.Stat(name)
	if statErr != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", name, statErr)
	}
	return info.ModTime(), nil
}

func (s *ConversationStore) read(name string) (conversationRecord, error) {
	data, err := s.dir.read(name)
	if err != nil {
		return conversationRecord{}, err
	}
	return decodeConversation(data)
}

// migrate rewrites a legacy record under the write lock. A record that was
// replaced by a concurrent Save in the meantime is left alone.
func (s *ConversationStore) migrate(name string) error {
	unlock := s.dir.lock(name)
	defer unlock()

	rec, err := s.read(name)
	if err != nil {
		return err
	}
	if !rec.legacy {
		return nil
	}
	stamp := rec.lastUpdated
	if !rec.stamped {
		info, err := s.dir.Stat(name)
		if err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		stamp = info.ModTime()
	}
	return s.dir.writeJSON(name, envelope{History: rec.history, LastUpdated: unixSeconds(stamp)})
}

func decodeConversation(data []byte) (conversationRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return conversationRecord{}, fmt.Errorf("%w: empty file", ErrCorrupt)
	}

	switch data[0] {
	case '[':
		history, _, err := domain.DecodeHistory(data)
		if err != nil {
			return conversationRecord{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return conversationRecord{history: history, legacy: true}, nil
	case '{':
		var raw struct {
			History     json.RawMessage `json:"history"`
			LastUpdated *float64        `json:"last_updated"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return conversationRecord{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		history, legacy, err := domain.DecodeHistory(raw.History)
		if err != nil {
			return conversationRecord{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		rec := conversationRecord{history: history, legacy: legacy}
		if raw.LastUpdated != nil {
			rec.lastUpdated = fromUnixSeconds(*raw.LastUpdated)
			rec.stamped = true
		} else {
			rec.legacy = true
		}
		return rec, nil
	default:
		return conversationRecord{}, fmt.Errorf("%w: unexpected content", ErrCorrupt)
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(f float64) time.Time {
	return time.Unix(0, int64(f*float64(time.Second)))
}
