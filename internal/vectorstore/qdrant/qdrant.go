package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"endochat/internal/domain"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID maps a chunk id to the UUID Qdrant requires. The mapping is stable,
// so re-indexing a chunk overwrites its point.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// Init creates the collection. An existing collection is reused.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil)
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	points := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		payload := map[string]any{
			"document_id": ch.DocumentID,
			"chunk_id":    ch.ChunkID,
			"index":       ch.Index,
			"text":        ch.Text,
			"source":      ch.Source,
		}
		if ch.Page != nil {
			payload["page"] = *ch.Page
		}
		if ch.PageLabel != "" {
			payload["page_label"] = ch.PageLabel
		}
		points[i] = map[string]any{
			"id":      PointID(ch.ChunkID),
			"vector":  vectors[i],
			"payload": payload,
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
}

type searchPoint struct {
	Score   float64 `json:"score"`
	Payload struct {
		DocumentID string `json:"document_id"`
		ChunkID    string `json:"chunk_id"`
		Index      int    `json:"index"`
		Text       string `json:"text"`
		Source     string `json:"source"`
		Page       *int   `json:"page"`
		PageLabel  string `json:"page_label"`
	} `json:"payload"`
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []searchPoint `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := r.Payload
		results = append(results, domain.SearchResult{
			Chunk: domain.Chunk{
				DocumentID: p.DocumentID,
				ChunkID:    p.ChunkID,
				Index:      p.Index,
				Text:       p.Text,
				Source:     p.Source,
				Page:       p.Page,
				PageLabel:  p.PageLabel,
			},
			Score: r.Score,
		})
	}
	return results, nil
}

// Clear drops the collection. A missing collection is not an error.
func (s *Storage) Clear(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *Storage) collectionExists(ctx context.Context) (bool, error) {
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		return true, nil
	}
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

type statusError struct {
	method string
	url    string
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.url, e.status)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{method: method, url: url, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
