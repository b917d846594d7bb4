package indexer

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"endochat/internal/domain"
)

// ErrNoDocuments is returned when the corpus paths match no readable page text.
var ErrNoDocuments = errors.New("no .txt or .jsonl documents found")

// pageRecord is one line of a .jsonl page dump written by the text
// extraction step.
type pageRecord struct {
	Source    string          `json:"source"`
	Page      *int            `json:"page"`
	PageLabel json.RawMessage `json:"page_label"`
	Content   string          `json:"content"`
}

// LoadDocuments expands the glob patterns and reads every .txt and .jsonl
// file. A .txt file containing form feeds is split into numbered pages.
func LoadDocuments(patterns []string) ([]domain.Document, error) {
	var files []string
	seen := make(map[string]struct{})
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad corpus pattern %q: %w", p, err)
		}
		if matches == nil {
			matches = []string{p}
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}

	var docs []domain.Document
	for _, f := range files {
		var (
			loaded []domain.Document
			err    error
		)
		switch strings.ToLower(filepath.Ext(f)) {
		case ".txt":
			loaded, err = loadText(f)
		case ".jsonl":
			loaded, err = loadPages(f)
		default:
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs, nil
}

func loadText(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	if !strings.Contains(content, "\f") {
		if strings.TrimSpace(content) == "" {
			return nil, nil
		}
		return []domain.Document{{ID: hashString(path), Source: path, Content: content}}, nil
	}

	var docs []domain.Document
	for i, text := range strings.Split(content, "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		page := i + 1
		docs = append(docs, domain.Document{
			ID:      hashString(path + "#" + strconv.Itoa(page)),
			Source:  path,
			Page:    &page,
			Content: text,
		})
	}
	return docs, nil
}

func loadPages(path string) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []domain.Document
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec pageRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if strings.TrimSpace(rec.Content) == "" {
			continue
		}
		source := rec.Source
		if source == "" {
			source = strings.TrimSuffix(path, filepath.Ext(path)) + ".pdf"
		}
		docs = append(docs, domain.Document{
			ID:        hashString(fmt.Sprintf("%s#%d", path, line)),
			Source:    source,
			Page:      rec.Page,
			PageLabel: decodeLabel(rec.PageLabel),
			Content:   rec.Content,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return docs, nil
}

// decodeLabel accepts a string or a number.
func decodeLabel(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
