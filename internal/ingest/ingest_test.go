package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoXiong127/L1-Project-2/internal/rag"
	"github.com/XiaoXiong127/L1-Project-2/pkg/logger"
)

type fakeEmbedder struct {
	mu     sync.Mutex
	inputs []string
	failOn string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, errors.New("embedding rejected")
		}
		f.inputs = append(f.inputs, t)
		out[i] = []float32{float32(utf8.RuneCountInString(t)), 1}
	}
	return out, nil
}

type memorySink struct {
	mu   sync.Mutex
	docs []chromem.Document
}

func (m *memorySink) Add(_ context.Context, docs []chromem.Document, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, docs...)
	return nil
}

func newPipeline(t *testing.T, e Embedder, s Sink, opts Options) *Pipeline {
	t.Helper()
	p, err := New(e, s, logger.Nop(), opts)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "张三", Truncate("张三九", 2))
	assert.Equal(t, 400, utf8.RuneCountInString(Truncate(strings.Repeat("健", 450), MaxChunkRunes)))
}

func TestSplit(t *testing.T) {
	text := strings.Repeat("张三九，男，四十五岁，血压偏高。", 20)
	chunks, err := Split([]Page{{Number: 2, Text: text}, {Number: 3, Text: "  \n\n "}}, "record.pdf", 50, 10)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 50)
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
		assert.Equal(t, 2, c.Page, "blank pages produce no chunks")
		assert.Equal(t, "record.pdf", c.Source)
	}
}

func TestOptionDefaults(t *testing.T) {
	o := Options{ChunkSize: 100, ChunkOverlap: 200}
	o.setDefaults()
	assert.Equal(t, DefaultChunkOverlap, o.ChunkOverlap)
	assert.Equal(t, DefaultBatchSize, o.BatchSize)
	assert.GreaterOrEqual(t, o.Workers, 1)
}

func TestIngestTruncatesAndStores(t *testing.T) {
	emb := &fakeEmbedder{}
	sink := &memorySink{}
	p := newPipeline(t, emb, sink, Options{BatchSize: 2, Workers: 3})

	long := strings.Repeat("长", 450)
	chunks := []Chunk{
		{Text: "a", Page: 1, Source: "doc.pdf"},
		{Text: long, Page: 1, Source: "doc.pdf"},
		{Text: "c", Page: 2, Source: "doc.pdf"},
		{Text: "d", Page: 2, Source: "doc.pdf"},
		{Text: "e", Page: 3, Source: "doc.pdf"},
	}

	report, err := p.Ingest(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, &Report{Chunks: 5, Stored: 5}, report)
	require.Len(t, sink.docs, 5)

	for _, in := range emb.inputs {
		assert.LessOrEqual(t, utf8.RuneCountInString(in), MaxChunkRunes)
	}
	for _, d := range sink.docs {
		assert.NotEmpty(t, d.ID)
		assert.Equal(t, "doc.pdf", d.Metadata["source"])
		if d.Metadata["page"] == "1" && d.Content != "a" {
			assert.Equal(t, long, d.Content, "stored content is not truncated")
		}
	}
}

func TestIngestSkipsFailedBatches(t *testing.T) {
	emb := &fakeEmbedder{failOn: "bad"}
	sink := &memorySink{}
	p := newPipeline(t, emb, sink, Options{BatchSize: 1, Workers: 2})

	report, err := p.Ingest(context.Background(), []Chunk{{Text: "good"}, {Text: "bad"}, {Text: "fine"}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stored)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, sink.docs, 2)
}

func TestIngestAllFailed(t *testing.T) {
	p := newPipeline(t, &fakeEmbedder{failOn: "x"}, &memorySink{}, Options{})
	_, err := p.Ingest(context.Background(), []Chunk{{Text: "x"}})
	assert.Error(t, err)

	_, err = p.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNothingToIngest)
}

func TestIngestIntoVectorStore(t *testing.T) {
	store, err := rag.OpenMemory("demo001", func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(utf8.RuneCountInString(text)), 1}, nil
	})
	require.NoError(t, err)

	p := newPipeline(t, &fakeEmbedder{}, store, Options{})
	_, err = p.Ingest(context.Background(), []Chunk{{Text: "血压：140/90", Page: 1}, {Text: "过敏史：无", Page: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Count())
}

func TestLoadPDFMissingFile(t *testing.T) {
	_, err := LoadPDF(context.Background(), "/nonexistent/file.pdf", nil)
	assert.Error(t, err)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, &memorySink{}, logger.Nop(), Options{})
	assert.Error(t, err)
}
