package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

type memoryKey struct {
	kind Kind
	id   string
}

// MemoryStore keeps definitions in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey]map[int]*Record
	latest  map[memoryKey]int
	closed  atomic.Bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[memoryKey]map[int]*Record),
		latest:  make(map[memoryKey]int),
	}
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) (*Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := validate(rec); err != nil {
		return nil, err
	}
	stored := stamp(rec)
	k := memoryKey{kind: rec.Kind, id: rec.ID}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.records[k]
	if versions == nil {
		versions = make(map[int]*Record)
		s.records[k] = versions
	}
	if _, ok := versions[rec.Version]; ok {
		return nil, fmt.Errorf("%s %s v%d: %w", rec.Kind, rec.ID, rec.Version, ErrVersionExists)
	}
	versions[rec.Version] = stored
	if rec.Version > s.latest[k] {
		s.latest[k] = rec.Version
	}
	return clone(stored), nil
}

func (s *MemoryStore) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := memoryKey{kind: kind, id: id}
	rec, ok := s.records[k][s.latest[k]]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, kind Kind, id string, version int) (*Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[memoryKey{kind: kind, id: id}][version]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) List(ctx context.Context, kind Kind) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for k := range s.records {
		if k.kind == kind {
			ids = append(ids, k.id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func clone(rec *Record) *Record {
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp
}
