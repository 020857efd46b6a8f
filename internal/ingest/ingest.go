// Package ingest turns documents into embedded chunks in the vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
	"github.com/XiaoXiong127/L1-Project-2/pkg/metrics"
)

const (
	// MaxChunkRunes bounds what is sent to the embedding endpoint; some
	// providers reject inputs over 512 tokens.
	MaxChunkRunes = 400

	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
	DefaultBatchSize    = 25
)

// ErrNothingToIngest is returned when a document yields no text.
var ErrNothingToIngest = errors.New("document contains no text")

// Embedder computes one vector per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Sink stores embedded chunks.
type Sink interface {
	Add(ctx context.Context, docs []chromem.Document, concurrency int) error
}

// Page is the text of one document page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Chunk is one piece of text to embed.
type Chunk struct {
	Text   string
	Page   int
	Source string
}

// Report summarizes an ingestion run.
type Report struct {
	Chunks  int
	Stored  int
	Skipped int
}

// Options tunes a Pipeline.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
}

func (o *Options) setDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU() / 2
		if o.Workers < 1 {
			o.Workers = 1
		}
	}
}

// Pipeline splits, embeds and stores text. Embedding batches run on a
// bounded worker pool.
type Pipeline struct {
	embedder Embedder
	sink     Sink
	pool     *ants.Pool
	opts     Options
	log      *logger.Logger
}

// New creates a pipeline. Call Release when done.
func New(embedder Embedder, sink Sink, log *logger.Logger, opts Options) (*Pipeline, error) {
	if embedder == nil || sink == nil {
		return nil, errors.New("embedder and sink are required")
	}
	opts.setDefaults()

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Pipeline{
		embedder: embedder,
		sink:     sink,
		pool:     pool,
		opts:     opts,
		log:      log.Component("ingest"),
	}, nil
}

// Release stops the worker pool.
func (p *Pipeline) Release() {
	p.pool.Release()
}

// Split breaks pages into chunks with the recursive character splitter.
// Whitespace-only chunks are dropped.
func (p *Pipeline) Split(pages []Page, source string) ([]Chunk, error) {
	return Split(pages, source, p.opts.ChunkSize, p.opts.ChunkOverlap)
}

// Split breaks pages into chunks of at most size runes with the given overlap.
func Split(pages []Page, source string, size, overlap int) ([]Chunk, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", "。", "；", ".", " ", ""}),
	)

	var chunks []Chunk
	for _, page := range pages {
		parts, err := splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", page.Number, err)
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			chunks = append(chunks, Chunk{Text: part, Page: page.Number, Source: source})
		}
	}
	return chunks, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Ingest embeds chunks in batches and stores them. A batch whose
// embedding fails is logged and skipped; the run continues.
func (p *Pipeline) Ingest(ctx context.Context, chunks []Chunk) (*Report, error) {
	report := &Report{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return report, ErrNothingToIngest
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		docs = make([]chromem.Document, 0, len(chunks))
	)

	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			embedded, err := p.embedBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Skipped += len(batch)
				metrics.IngestChunksTotal.WithLabelValues("skipped").Add(float64(len(batch)))
				p.log.Warn("skipping batch after embedding failure",
					zap.Int("first_page", batch[0].Page),
					zap.Int("chunks", len(batch)),
					zap.Error(err),
				)
				return
			}
			docs = append(docs, embedded...)
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return report, fmt.Errorf("failed to schedule embedding batch: %w", submitErr)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(docs) == 0 {
		return report, fmt.Errorf("no chunks could be embedded (%d skipped)", report.Skipped)
	}

	if err := p.sink.Add(ctx, docs, 1); err != nil {
		return report, fmt.Errorf("failed to store chunks: %w", err)
	}
	report.Stored = len(docs)
	metrics.IngestChunksTotal.WithLabelValues("stored").Add(float64(len(docs)))

	p.log.Info("ingestion finished",
		zap.Int("chunks", report.Chunks),
		zap.Int("stored", report.Stored),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []Chunk) ([]chromem.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = Truncate(c.Text, MaxChunkRunes)
		if len(texts[i]) < len(c.Text) {
			p.log.Debug("truncated chunk before embedding",
				zap.Int("page", c.Page),
				zap.Int("runes", utf8.RuneCountInString(c.Text)),
			)
		}
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(batch))
	}

	docs := make([]chromem.Document, len(batch))
	for i, c := range batch {
		docs[i] = chromem.Document{
			ID:        uuid.NewString(),
			Content:   c.Text,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"page":   strconv.Itoa(c.Page),
				"source": c.Source,
			},
		}
	}
	return docs, nil
}
