package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tmc/langchaingo/documentloaders"
	"go.uber.org/zap"
)

// LoadPDF extracts the text of a PDF, one Page per page. When pages is
// non-empty only those page numbers (1-based) are kept.
func LoadPDF(ctx context.Context, path string, pages []int) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	docs, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf %s: %w", path, err)
	}

	want := make(map[int]bool, len(pages))
	for _, n := range pages {
		want[n] = true
	}

	out := make([]Page, 0, len(docs))
	for i, d := range docs {
		n, ok := d.Metadata["page"].(int)
		if !ok {
			n = i + 1
		}
		if len(want) > 0 && !want[n] {
			continue
		}
		out = append(out, Page{Number: n, Text: d.PageContent})
	}
	return out, nil
}

// IngestPDF loads, splits, embeds and stores one PDF file.
func (p *Pipeline) IngestPDF(ctx context.Context, path string, pages []int) (*Report, error) {
	loaded, err := LoadPDF(ctx, path, pages)
	if err != nil {
		return nil, err
	}

	source := filepath.Base(path)
	chunks, err := p.Split(loaded, source)
	if err != nil {
		return nil, err
	}
	p.log.Info("pdf split",
		zap.String("source", source),
		zap.Int("pages", len(loaded)),
		zap.Int("chunks", len(chunks)),
	)

	return p.Ingest(ctx, chunks)
}
