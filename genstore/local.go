package genstore

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	n       uint64
	touched time.Time
}

// LocalGenStore keeps counters in process memory. With a cleanup interval and
// a retention it prunes counters untouched for retention; a pruned counter
// reads 0 again, so retention must exceed the life of anything stamped with it.
type LocalGenStore struct {
	mu sync.RWMutex
	m  map[string]counter

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{m: make(map[string]counter)}
	if cleanupInterval <= 0 || retention <= 0 {
		return s
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.sweep(cleanupInterval, retention)
	return s
}

func (s *LocalGenStore) sweep(every, retention time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-s.stop:
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[k].n, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	return s.update(k, func(n uint64) uint64 { return n + 1 }), nil
}

func (s *LocalGenStore) Advance(_ context.Context, k string, n uint64) (uint64, error) {
	return s.update(k, func(cur uint64) uint64 { return max(cur, n) }), nil
}

func (s *LocalGenStore) update(k string, fn func(uint64) uint64) uint64 {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := counter{n: fn(s.m[k].n), touched: now}
	s.m[k] = c
	return c.n
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.m {
		if c.touched.Before(cutoff) {
			delete(s.m, k)
		}
	}
}

// Close stops the sweeper. Counters stay readable.
func (s *LocalGenStore) Close(context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
	})
	return nil
}
