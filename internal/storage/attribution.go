package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"endochat/internal/domain"
	"endochat/internal/observability"
)

// AttributionStore keeps the latest source and image records per user
// (K_sources.json and K_images.json). Each save fully replaces the previous
// record; saving an empty list removes the file.
type AttributionStore struct {
	dir *Dir
}

func NewAttributionStore(dir *Dir) *AttributionStore {
	return &AttributionStore{dir: dir}
}

func (s *AttributionStore) SaveSources(userID string, sources []domain.Source) error {
	return saveList(s.dir, userID, KindSources, sources)
}

// LoadSources returns nil, nil when no record exists.
func (s *AttributionStore) LoadSources(userID string) ([]domain.Source, error) {
	var sources []domain.Source
	if err := loadList(s.dir, userID, KindSources, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

func (s *AttributionStore) DeleteSources(userID string) error {
	return deleteRecord(s.dir, userID, KindSources)
}

func (s *AttributionStore) SaveImages(userID string, images []domain.ImageMatch) error {
	return saveList(s.dir, userID, KindImages, images)
}

// LoadImages returns nil, nil when no record exists.
func (s *AttributionStore) LoadImages(userID string) ([]domain.ImageMatch, error) {
	var images []domain.ImageMatch
	if err := loadList(s.dir, userID, KindImages, &images); err != nil {
		return nil, err
	}
	return images, nil
}

func (s *AttributionStore) DeleteImages(userID string) error {
	return deleteRecord(s.dir, userID, KindImages)
}

// DeleteAll removes both attribution records and returns how many existed.
func (s *AttributionStore) DeleteAll(userID string) (int, error) {
	key := SanitizeKey(userID)
	if key == "" {
		return 0, nil
	}
	removed := 0
	var errs []error
	for _, kind := range []Kind{KindSources, KindImages} {
		ok, err := s.dir.Remove(FileName(key, kind))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func saveList[T any](dir *Dir, userID string, kind Kind, items []T) error {
	key := SanitizeKey(userID)
	if key == "" {
		return ErrEmptyKey
	}
	if len(items) == 0 {
		return deleteRecord(dir, userID, kind)
	}
	name := FileName(key, kind)
	start := time.Now()

	unlock := dir.lock(name)
	err := dir.writeJSON(name, items)
	unlock()

	observability.RecordStoreOp(kind.String(), "save", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("save %s record %s: %w", kind, key, err)
	}
	return nil
}

func loadList(dir *Dir, userID string, kind Kind, out any) error {
	key := SanitizeKey(userID)
	if key == "" {
		return nil
	}
	name := FileName(key, kind)
	data, err := dir.read(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		observability.RecordStoreOp(kind.String(), "load", 0, false)
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		observability.RecordStoreCorruption(kind.String())
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return nil
}

func deleteRecord(dir *Dir, userID string, kind Kind) error {
	key := SanitizeKey(userID)
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := dir.Remove(FileName(key, kind)); err != nil {
		observability.RecordStoreOp(kind.String(), "delete", 0, false)
		return err
	}
	return nil
}
