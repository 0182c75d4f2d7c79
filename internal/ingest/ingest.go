// Package ingest chunks a document folder, embeds the chunks and upserts
// them into the vector index the retrieval step reads.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"replydraft/internal/model"
)

// DefaultBatchSize is how many chunks go into one embedding request.
const DefaultBatchSize = 100

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the write side of the vector index.
type Index interface {
	Upsert(ctx context.Context, chunks []model.IndexedChunk) error
	DeleteSource(ctx context.Context, sourceFile string) error
}

type Options struct {
	ChunkSize int
	Overlap   int
	BatchSize int
	// Readers bounds parallel file reads.
	Readers int
}

type Ingester struct {
	embed Embedder
	index Index
	opts  Options
	log   zerolog.Logger
}

func New(embed Embedder, index Index, opts Options, log zerolog.Logger) *Ingester {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = DefaultOverlap
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Readers <= 0 {
		opts.Readers = 4
	}
	return &Ingester{embed: embed, index: index, opts: opts, log: log.With().Str("component", "ingest").Logger()}
}

// Stats summarizes one ingest run.
type Stats struct {
	Files   int
	Skipped int
	Chunks  int
}

// namespace seeds deterministic chunk ids so re-ingesting a file overwrites
// its previous chunks instead of duplicating them.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("replydraft/chunks"))

// ChunkID is stable for a (source file, position) pair.
func ChunkID(source string, seq int) string {
	return uuid.NewSHA1(namespace, []byte(source+"#"+strconv.Itoa(seq))).String()
}

// Walk lists supported files under root, sorted.
func Walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Run ingests every supported file under root.
func (in *Ingester) Run(ctx context.Context, root string) (Stats, error) {
	files, err := Walk(root)
	if err != nil {
		return Stats{}, err
	}
	in.log.Info().Str("source", root).Int("files", len(files)).Msg("ingest started")

	chunks, sources, stats := in.prepare(ctx, root, files)
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	// Embed before touching the index so a failed run leaves it as it was.
	if err := in.embedAll(ctx, chunks); err != nil {
		return stats, err
	}
	for _, source := range sources {
		if err := in.index.DeleteSource(ctx, source); err != nil {
			return stats, fmt.Errorf("delete %s: %w", source, err)
		}
	}
	if err := in.upsert(ctx, chunks); err != nil {
		return stats, err
	}
	stats.Chunks = len(chunks)
	in.log.Info().Int("files", stats.Files).Int("skipped", stats.Skipped).Int("chunks", stats.Chunks).Msg("ingest finished")
	return stats, nil
}

// IngestFile replaces the chunks of a single file.
func (in *Ingester) IngestFile(ctx context.Context, root, path string) (int, error) {
	source := relSource(root, path)
	text, err := ReadText(path)
	if err != nil {
		return 0, err
	}
	chunks := in.chunkFile(source, text)
	if err := in.embedAll(ctx, chunks); err != nil {
		return 0, err
	}
	if err := in.index.DeleteSource(ctx, source); err != nil {
		return 0, fmt.Errorf("delete %s: %w", source, err)
	}
	if err := in.upsert(ctx, chunks); err != nil {
		return 0, err
	}
	in.log.Info().Str("file", source).Int("chunks", len(chunks)).Msg("file reindexed")
	return len(chunks), nil
}

// prepare reads and chunks files on a small worker pool. Unreadable files
// are logged and skipped; sources lists the files that were read.
func (in *Ingester) prepare(ctx context.Context, root string, files []string) ([]model.IndexedChunk, []string, Stats) {
	type result struct {
		idx    int
		chunks []model.IndexedChunk
		err    error
	}
	jobs := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	workerCount := min(in.opts.Readers, max(len(files), 1))
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					results <- result{idx: idx, err: ctx.Err()}
					continue
				}
				text, err := ReadText(files[idx])
				if err != nil {
					results <- result{idx: idx, err: err}
					continue
				}
				results <- result{idx: idx, chunks: in.chunkFile(relSource(root, files[idx]), text)}
			}
		}()
	}
	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	perFile := make([][]model.IndexedChunk, len(files))
	ok := make([]bool, len(files))
	var stats Stats
	for r := range results {
		if r.err != nil {
			stats.Skipped++
			in.log.Warn().Err(r.err).Str("file", files[r.idx]).Msg("skipping file")
			continue
		}
		stats.Files++
		perFile[r.idx] = r.chunks
		ok[r.idx] = true
		in.log.Debug().Str("file", files[r.idx]).Int("chunks", len(r.chunks)).Msg("prepared")
	}
	var all []model.IndexedChunk
	var sources []string
	for i, cs := range perFile {
		if ok[i] {
			sources = append(sources, relSource(root, files[i]))
		}
		all = append(all, cs...)
	}
	return all, sources, stats
}

func (in *Ingester) chunkFile(source, text string) []model.IndexedChunk {
	pieces := Chunk(text, in.opts.ChunkSize, in.opts.Overlap)
	out := make([]model.IndexedChunk, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, model.IndexedChunk{ChunkID: ChunkID(source, i), SourceFile: source, Text: p})
	}
	return out
}

// embedAll fills in the embedding of every chunk, one request per batch.
func (in *Ingester) embedAll(ctx context.Context, chunks []model.IndexedChunk) error {
	for start := 0; start < len(chunks); start += in.opts.BatchSize {
		end := min(start+in.opts.BatchSize, len(chunks))
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := in.embed.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vecs))
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
	}
	return nil
}

// upsert writes embedded chunks in batches.
func (in *Ingester) upsert(ctx context.Context, chunks []model.IndexedChunk) error {
	for start := 0; start < len(chunks); start += in.opts.BatchSize {
		end := min(start+in.opts.BatchSize, len(chunks))
		if err := in.index.Upsert(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("upsert chunks %d-%d: %w", start, end, err)
		}
		in.log.Debug().Int("upserted", end).Int("total", len(chunks)).Msg("batch stored")
	}
	return nil
}

func relSource(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
