package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DocumentRecord is one exported calibration kept for download.
type DocumentRecord struct {
	ID        string
	Name      string
	Raw       []byte
	CreatedAt time.Time
}

// DocumentStore keeps exported documents in memory, addressed by random id.
type DocumentStore struct {
	mu sync.RWMutex
	m  map[string]*DocumentRecord
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{m: make(map[string]*DocumentRecord)}
}

func (s *DocumentStore) Put(name string, raw []byte) (*DocumentRecord, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	rec := &DocumentRecord{ID: id, Name: name, Raw: raw, CreatedAt: time.Now()}
	s.mu.Lock()
	s.m[id] = rec
	s.mu.Unlock()
	return rec, nil
}

func (s *DocumentStore) Get(id string) (*DocumentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	return r, ok
}

func newID() (string, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
