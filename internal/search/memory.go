package search

import (
	"context"
	"slices"
	"sync"
)

// NoopSink discards documents. It is used when no search instance is configured.
type NoopSink struct{}

func (NoopSink) Connect(context.Context) error { return nil }
func (NoopSink) UpdateDocuments(context.Context, string, []Document) error { return nil }
func (NoopSink) Close() error { return nil }

// MemorySink validates and keeps the latest document per id and index.
type MemorySink struct {
	mu        sync.Mutex
	documents map[string]map[int64]Document
}

func NewMemorySink() *MemorySink {
	return &MemorySink{documents: make(map[string]map[int64]Document)}
}

func (s *MemorySink) Connect(context.Context) error { return nil }

func (s *MemorySink) Close() error { return nil }

func (s *MemorySink) UpdateDocuments(_ context.Context, index string, documents []Document) error {
	for _, document := range documents {
		if err := ValidateDocument(document); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.documents[index] == nil {
		s.documents[index] = make(map[int64]Document)
	}
	for _, document := range documents {
		document.Creators = slices.Clone(document.Creators)
		document.BPM = slices.Clone(document.BPM)
		s.documents[index][document.ID] = document
	}
	return nil
}

// Document returns the stored document for id in index.
func (s *MemorySink) Document(index string, id int64) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	document, ok := s.documents[index][id]
	return document, ok
}
