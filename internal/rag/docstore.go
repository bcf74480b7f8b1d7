package rag

import (
	"strings"
	"sync"
)

// DocumentStore is an append-only list of fragments addressed by dense ids.
// It is safe for concurrent use; keeping it aligned with a VectorIndex is
// the Corpus' responsibility.
type DocumentStore struct {
	// mu guards fragments.
	mu sync.RWMutex
	// fragments is indexed by Fragment.ID.
	fragments []Fragment
}

// NewDocumentStore returns an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{}
}

// Append stores text under the next id and returns that id.
// Text consisting only of whitespace is rejected with ErrValidation.
func (s *DocumentStore) Append(text, sourceRef string) (int, error) {
	if err := checkText(text); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := len(s.fragments)
	s.fragments = append(s.fragments, Fragment{ID: id, Text: text, SourceRef: sourceRef})
	return id, nil
}

// Get returns the fragment stored under id.
func (s *DocumentStore) Get(id int) (Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 0 || id >= len(s.fragments) {
		return Fragment{}, NotFoundf("fragment %d (size %d)", id, len(s.fragments))
	}
	return s.fragments[id], nil
}

// Size returns the number of stored fragments.
func (s *DocumentStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments)
}

// Reset drops every fragment. The next Append returns id 0.
func (s *DocumentStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = nil
}

// checkText rejects empty and whitespace-only fragment text.
func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return Validationf("fragment text is empty")
	}
	return nil
}
