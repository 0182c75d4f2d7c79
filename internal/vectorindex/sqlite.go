// Package vectorindex stores knowledge-base chunks with their embeddings in
// SQLite and answers nearest-neighbor queries by cosine distance.
package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"replydraft/internal/model"
	"replydraft/internal/retrieval"
	"replydraft/internal/util"
)

// Index is one namespace (deployed index) inside a SQLite database.
type Index struct {
	db    *sql.DB
	table string
}

// Open opens the database at path (an optional "sqlite://" prefix is
// accepted) and prepares the table for deployedIndexID.
func Open(path, deployedIndexID string) (*Index, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	idx := &Index{db: db, table: "chunks_" + util.NormalizeIndexID(deployedIndexID)}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) migrate() error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	source_file TEXT NOT NULL,
	text        TEXT NOT NULL DEFAULT '',
	embedding   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_source ON %[1]s(source_file);
`, i.table)
	if _, err := i.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate index schema: %w", err)
	}
	return nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Upsert writes chunks, replacing any with the same id.
func (i *Index) Upsert(ctx context.Context, chunks []model.IndexedChunk) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source_file, text, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_file = excluded.source_file,
			text        = excluded.text,
			embedding   = excluded.embedding
	`, i.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		vec, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding %s: %w", c.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.SourceFile, c.Text, string(vec)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteSource removes every chunk that came from sourceFile.
func (i *Index) DeleteSource(ctx context.Context, sourceFile string) error {
	_, err := i.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE source_file = ?", i.table), sourceFile)
	return err
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := i.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", i.table)).Scan(&n)
	return n, err
}

// Nearest scans the namespace and returns the k chunks closest to vec by
// cosine distance, nearest first.
func (i *Index) Nearest(ctx context.Context, vec []float32, k int) ([]retrieval.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := i.db.QueryContext(ctx, fmt.Sprintf("SELECT id, text, embedding FROM %s", i.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []retrieval.Neighbor
	for rows.Next() {
		var id, text, raw string
		if err := rows.Scan(&id, &text, &raw); err != nil {
			return nil, err
		}
		var emb []float32
		if err := json.Unmarshal([]byte(raw), &emb); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", id, err)
		}
		hits = append(hits, retrieval.Neighbor{ID: id, Text: text, Distance: CosineDistance(vec, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// CosineDistance is 1 - cosine similarity. Mismatched or zero vectors are
// maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
