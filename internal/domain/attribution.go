package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

type pageKind uint8

const (
	pageNone pageKind = iota
	pageNumber
	pageLabel
)

// Page is the display page of a source: a number, a free-form label, or unknown.
// The zero value is unknown. Page values are comparable.
type Page struct {
	kind  pageKind
	num   int
	label string
}

// PageNumber returns a numeric page.
func PageNumber(n int) Page { return Page{kind: pageNumber, num: n} }

// PageLabel returns a labelled page. Labels made only of digits become numbers.
func PageLabel(label string) Page {
	label = strings.TrimSpace(label)
	if label == "" {
		return Page{}
	}
	if n, err := strconv.Atoi(label); err == nil && n >= 0 && isDigits(label) {
		return PageNumber(n)
	}
	return Page{kind: pageLabel, label: label}
}

// Known reports whether the page carries a number or a label.
func (p Page) Known() bool { return p.kind != pageNone }

// Number returns the numeric page, if any.
func (p Page) Number() (int, bool) { return p.num, p.kind == pageNumber }

func (p Page) String() string {
	switch p.kind {
	case pageNumber:
		return strconv.Itoa(p.num)
	case pageLabel:
		return p.label
	default:
		return ""
	}
}

// MarshalJSON encodes a page as a number, a string, or null.
func (p Page) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case pageNumber:
		return []byte(strconv.Itoa(p.num)), nil
	case pageLabel:
		return json.Marshal(p.label)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Page) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Page{}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*p = PageNumber(int(n))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode page: %w", err)
	}
	*p = PageLabel(s)
	return nil
}

// Source is one entry of a Source Attribution Record.
type Source struct {
	Filename string `json:"filename"`
	Page     Page   `json:"page"`
}

// ChunkMetadata is the provenance attached to a retrieved chunk.
type ChunkMetadata struct {
	SourcePath string `json:"source"`
	Page       *int   `json:"page,omitempty"`
	PageLabel  string `json:"page_label,omitempty"`
}

// RetrievedChunk is a transient similarity-search hit.
type RetrievedChunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
	Distance float64       `json:"distance"`
}

// ResolvePage prefers the explicit page label over the raw page index.
func (m ChunkMetadata) ResolvePage() Page {
	if p := PageLabel(m.PageLabel); p.Known() {
		return p
	}
	if m.Page != nil {
		return PageNumber(*m.Page)
	}
	return Page{}
}

// Filename returns the base name of the source path.
func (m ChunkMetadata) Filename() string {
	if strings.TrimSpace(m.SourcePath) == "" {
		return ""
	}
	return filepath.Base(filepath.ToSlash(m.SourcePath))
}

// ImageEntry describes one image extracted from the corpus, keyed by Filename.
type ImageEntry struct {
	Filename    string `json:"filename"`
	SourcePDF   string `json:"source_pdf"`
	PageNumber  int    `json:"page_number"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Description string `json:"description,omitempty"`
}

// ImageMatch is an image relevant to a query along with its keyword score.
type ImageMatch struct {
	ImageEntry
	Score int `json:"score"`
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
