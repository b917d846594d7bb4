package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
)

var (
	// ErrCorrupt marks a record file that exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")
	// ErrEmptyKey is returned when an empty user id would be persisted.
	ErrEmptyKey = errors.New("empty user id")
)

const (
	recordExt     = ".json"
	sourcesSuffix = "_sources.json"
	imagesSuffix  = "_images.json"
)

// Kind identifies which per-user record a file holds.
type Kind int

const (
	KindConversation Kind = iota
	KindSources
	KindImages
)

func (k Kind) String() string {
	switch k {
	case KindSources:
		return "sources"
	case KindImages:
		return "images"
	default:
		return "conversation"
	}
}

// SanitizeKey maps a user id to a filesystem-safe key. Every rune that is not
// a letter or digit becomes '_'. Distinct ids may collide. A key that would
// end like a sibling record ("_sources", "_images") gets a trailing '_' so
// its conversation file never reads as another user's record.
func SanitizeKey(userID string) string {
	key := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, userID)
	if strings.HasSuffix(key+recordExt, sourcesSuffix) || strings.HasSuffix(key+recordExt, imagesSuffix) {
		key += "_"
	}
	return key
}

// FileName returns the record file name for a sanitized key.
func FileName(key string, kind Kind) string {
	switch kind {
	case KindSources:
		return key + sourcesSuffix
	case KindImages:
		return key + imagesSuffix
	default:
		return key + recordExt
	}
}

// ClassifyFile reverses FileName. Hidden and temporary files are rejected.
// Names ending in "_sources.json" or "_images.json" are always siblings;
// SanitizeKey never produces a conversation key with those endings.
func ClassifyFile(name string) (key string, kind Kind, ok bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", 0, false
	}
	switch {
	case strings.HasSuffix(name, sourcesSuffix):
		key, kind = strings.TrimSuffix(name, sourcesSuffix), KindSources
	case strings.HasSuffix(name, imagesSuffix):
		key, kind = strings.TrimSuffix(name, imagesSuffix), KindImages
	default:
		key, kind = strings.TrimSuffix(name, recordExt), KindConversation
	}
	if key == "" {
		return "", 0, false
	}
	return key, kind, true
}

// Record is one per-user file found on disk.
type Record struct {
	Key  string
	Kind Kind
	Name string
}

// Dir is the flat directory holding every per-user record. Writes to the
// same file are serialized and land atomically through a rename.
type Dir struct {
	path  string
	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the lock set; unrelated files may share a stripe.
const lockStripes = 64

// OpenDir creates the directory if needed.
func OpenDir(path string) (*Dir, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Records lists every recognised record file.
func (d *Dir) Records() ([]Record, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list storage directory: %w", err)
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, kind, ok := ClassifyFile(e.Name())
		if !ok {
			continue
		}
		records = append(records, Record{Key: key, Kind: kind, Name: e.Name()})
	}
	return records, nil
}

// Stat returns file info for a record file.
func (d *Dir) Stat(name string) (os.FileInfo, error) {
	return os.Stat(d.file(name))
}

func (d *Dir) file(name string) string { return filepath.Join(d.path, name) }

func (d *Dir) lock(name string) func() {
	l := d.stripe(name)
	l.Lock()
	return l.Unlock
}

func (d *Dir) stripe(name string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return &d.locks[h.Sum32()%lockStripes]
}

func (d *Dir) read(name string) ([]byte, error) {
	return os.ReadFile(d.file(name))
}

// writeJSON replaces name with the encoded value. The caller holds the lock.
func (d *Dir) writeJSON(name string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(d.path, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, d.file(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// remove deletes name and reports whether it existed. The caller holds the lock.
func (d *Dir) remove(name string) (bool, error) {
	err := os.Remove(d.file(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove %s: %w", name, err)
}

// Remove deletes a record file under its lock.
func (d *Dir) Remove(name string) (bool, error) {
	unlock := d.lock(name)
	defer unlock()
	return d.remove(name)
}
