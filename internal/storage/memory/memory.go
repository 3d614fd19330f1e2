package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	events []float64
	expiry float64 // epoch seconds; entry is dead once now passes this
}

// MemoryStore is the single-process fallback behind the same contract as the
// Redis store. All operations are keyed off the caller-supplied timestamp, so
// semantics match the shared store exactly; only the cross-process sharing is
// lost.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]*entry
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{m: map[string]*entry{}}
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		now := float64(time.Now().UnixNano()) / float64(time.Second)
		s.mu.Lock()
		for k, e := range s.m {
			if e == nil || e.expiry <= now {
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}
}

func (s *MemoryStore) Record(ctx context.Context, key string, now float64, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok || e == nil || e.expiry <= now {
		e = &entry{}
		s.m[key] = e
	}

	e.prune(now - window.Seconds())
	count := int64(len(e.events))

	e.events = append(e.events, now)
	e.expiry = now + window.Seconds()

	return count, nil
}

func (s *MemoryStore) Retract(ctx context.Context, key string, at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok || e == nil {
		return nil
	}

	// Scan from the end: the retracted event is almost always the last one.
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i] == at {
			e.events = append(e.events[:i], e.events[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, key string, now float64, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok || e == nil || e.expiry <= now {
		delete(s.m, key)
		return 0, nil
	}

	e.prune(now - window.Seconds())
	return int64(len(e.events)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.m[key]
	delete(s.m, key)
	return ok, nil
}

// prune drops events at or before windowStart; the boundary itself is outside
// the window.
func (e *entry) prune(windowStart float64) {
	kept := e.events[:0]
	for _, ts := range e.events {
		if ts > windowStart {
			kept = append(kept, ts)
		}
	}
	e.events = kept
}
