// Package sqlitevec stores chunk vectors in a local SQLite database using the
// sqlite-vec extension.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"endochat/internal/domain"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

const schema = `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		page INTEGER,
		page_label TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Storage is a persistent vector store. Vectors live in a vec0 virtual table
// keyed by chunk id; chunk text and provenance live in a plain table.
type Storage struct {
	db        *sql.DB
	dimension int
}

// Open opens (or creates) the database at path.
func Open(path string) (*Storage, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s := &Storage{db: db}
	if dim, err := s.storedDimension(context.Background()); err == nil {
		s.dimension = dim
	}
	return s, nil
}

// Close closes the database.
func (s *Storage) Close() error { return s.db.Close() }

// Dimension returns the vector dimension the database was initialized with,
// or zero for a fresh database.
func (s *Storage) Dimension() int { return s.dimension }

// Init creates the vector table. A table built for another dimension is
// dropped together with its chunks.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	current, err := s.storedDimension(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if current == dimension {
		s.dimension = dimension
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		"DROP TABLE IF EXISTS embeddings",
		"DELETE FROM chunks",
		fmt.Sprintf(`CREATE VIRTUAL TABLE embeddings USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		)`, dimension),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO metadata (key, value) VALUES ('dimension', ?)",
		strconv.Itoa(dimension),
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	if s.dimension == 0 {
		return errors.New("vector table not initialized")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, ch := range chunks {
		if len(vectors[i]) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
		var page sql.NullInt64
		if ch.Page != nil {
			page = sql.NullInt64{Int64: int64(*ch.Page), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (id, document_id, idx, content, source, page, page_label)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ch.ChunkID, ch.DocumentID, ch.Index, ch.Text, ch.Source, page, ch.PageLabel,
		); err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}

		embeddingJSON, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		// vec0 tables do not support upserts.
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE chunk_id = ?", ch.ChunkID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO embeddings (chunk_id, embedding) VALUES (?, ?)",
			ch.ChunkID, string(embeddingJSON),
		); err != nil {
			return fmt.Errorf("failed to store embedding in vector table: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	if s.dimension == 0 {
		return nil, errors.New("vector table not initialized")
	}
	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	const query = `
		SELECT
			c.id, c.document_id, c.idx, c.content, c.source, c.page, c.page_label,
			vec_distance_cosine(e.embedding, ?) AS distance
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		ORDER BY distance ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, string(embeddingJSON), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			ch       domain.Chunk
			page     sql.NullInt64
			distance float64
		)
		if err := rows.Scan(&ch.ChunkID, &ch.DocumentID, &ch.Index, &ch.Text, &ch.Source, &page, &ch.PageLabel, &distance); err != nil {
			return nil, err
		}
		if page.Valid {
			p := int(page.Int64)
			ch.Page = &p
		}
		// cosine distance is 1 - cosine similarity
		results = append(results, domain.SearchResult{Chunk: ch, Score: 1.0 - distance})
	}
	return results, rows.Err()
}

func (s *Storage) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if s.dimension > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return err
	}
	return tx.Commit()
}

// Count returns the number of indexed chunks.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

func (s *Storage) storedDimension(ctx context.Context) (int, error) {
	var value string
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'dimension'").Scan(&value); err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}
