// Package rag stores document chunks in a persistent vector collection and
// retrieves the ones relevant to a question.
package rag

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Hit is one retrieved chunk.
type Hit struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float32
}

// Store wraps one chromem-go collection persisted under a directory.
type Store struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
}

// Open opens (or creates) the collection name in the persistent database at dir.
func Open(dir, name string, embed chromem.EmbeddingFunc) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return openCollection(db, name, embed)
}

// OpenMemory opens an in-memory collection.
func OpenMemory(name string, embed chromem.EmbeddingFunc) (*Store, error) {
	return openCollection(chromem.NewDB(), name, embed)
}

func openCollection(db *chromem.DB, name string, embed chromem.EmbeddingFunc) (*Store, error) {
	col, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", name, err)
	}
	return &Store{db: db, collection: col}, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Add stores documents. Documents without an embedding are embedded with
// the collection's function.
func (s *Store) Add(ctx context.Context, docs []chromem.Document, concurrency int) error {
	if len(docs) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.AddDocuments(ctx, docs, concurrency)
}

// Search returns up to k chunks most similar to query, best first.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		})
	}
	return hits, nil
}
