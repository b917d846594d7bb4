package images

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"endochat/internal/domain"
	"endochat/internal/observability"
)

// extractedImage is one image entry as written by the extraction pipeline.
type extractedImage struct {
	Filename    string `json:"filename"`
	SourcePDF   string `json:"source_pdf"`
	PageNumber  int    `json:"page_number"`
	ImageIndex  int    `json:"image_index"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Hash        string `json:"hash"`
	FilePath    string `json:"file_path"`
	Description string `json:"description"`
}

type pdfEntry struct {
	LastProcessed   json.RawMessage  `json:"last_processed"`
	ImagesExtracted int              `json:"images_extracted"`
	Images          []extractedImage `json:"images"`
}

// FileCatalog serves the image catalog from the extraction metadata file.
// The file maps each PDF to the images extracted from it; a plain array of
// image entries is accepted too. A missing file is an empty catalog.
type FileCatalog struct {
	path string

	mu     sync.RWMutex
	images []domain.ImageEntry
	loaded bool
}

func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

// AllImages returns the catalog, loading it on first use.
func (c *FileCatalog) AllImages() ([]domain.ImageEntry, error) {
	c.mu.RLock()
	if c.loaded {
		out := c.images
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	if err := c.Reload(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.images, nil
}

// Reload re-reads the metadata file. On error the previous catalog is kept.
func (c *FileCatalog) Reload() error {
	images, err := readCatalog(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.images = images
	c.loaded = true
	c.mu.Unlock()

	observability.SetCatalogImages(len(images))
	log.Debug().Str("file", c.path).Int("images", len(images)).Msg("Image catalog loaded")
	return nil
}

func readCatalog(path string) ([]domain.ImageEntry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image catalog: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raw []extractedImage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode image catalog: %w", err)
		}
	} else {
		var byPDF map[string]pdfEntry
		if err := json.Unmarshal(data, &byPDF); err != nil {
			return nil, fmt.Errorf("decode image catalog: %w", err)
		}
		pdfs := make([]string, 0, len(byPDF))
		for pdf := range byPDF {
			pdfs = append(pdfs, pdf)
		}
		sort.Strings(pdfs)
		for _, pdf := range pdfs {
			for _, img := range byPDF[pdf].Images {
				if img.SourcePDF == "" {
					img.SourcePDF = pdf
				}
				raw = append(raw, img)
			}
		}
	}

	seen := make(map[string]struct{}, len(raw))
	images := make([]domain.ImageEntry, 0, len(raw))
	for _, img := range raw {
		if img.Filename == "" {
			continue
		}
		if _, dup := seen[img.Filename]; dup {
			continue
		}
		seen[img.Filename] = struct{}{}
		images = append(images, domain.ImageEntry{
			Filename:    img.Filename,
			SourcePDF:   img.SourcePDF,
			PageNumber:  img.PageNumber,
			Width:       img.Width,
			Height:      img.Height,
			Description: img.Description,
		})
	}
	return images, nil
}

// StaticCatalog is a fixed in-memory catalog.
type StaticCatalog []domain.ImageEntry

func (s StaticCatalog) AllImages() ([]domain.ImageEntry, error) { return s, nil }
