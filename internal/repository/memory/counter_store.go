package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sigmapli/cadastro-auth/internal/core/port"
)

var errNonPositiveWindow = errors.New("window must be positive")

type hit struct {
	at time.Time
	id uint64
}

// CounterStore keeps sliding-window hits in process memory. It is the default store when
// Redis is disabled.
type CounterStore struct {
	mu   sync.Mutex
	seq  uint64
	hits map[string][]hit
}

// NewCounterStore constructs an empty in-memory counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{hits: make(map[string][]hit)}
}

// RecordAttempt appends a hit for identifier, keeping hits sorted.
func (s *CounterStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertLocked(identifier, at)
	return nil
}

// CountAttempts returns how many hits fall in [reference-window, reference].
func (s *CounterStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errNonPositiveWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count, _ := s.windowLocked(identifier, window, reference)
	return count, nil
}

// TrimWindow drops hits older than reference-window.
func (s *CounterStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errNonPositiveWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimLocked(identifier, reference.Add(-window))
	return nil
}

// OldestAttempt returns the oldest hit inside the window.
func (s *CounterStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errNonPositiveWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count, oldest := s.windowLocked(identifier, window, reference)
	return oldest, count > 0, nil
}

// ReserveAttempt trims, counts and records under one lock hold.
func (s *CounterStore) ReserveAttempt(_ context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.Reservation, error) {
	if window <= 0 {
		return port.Reservation{}, errNonPositiveWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimLocked(identifier, at.Add(-window))
	count, oldest := s.windowLocked(identifier, window, at)
	if count >= limit {
		return port.Reservation{Count: count, Oldest: oldest}, nil
	}

	id := s.insertLocked(identifier, at)
	if count == 0 || at.Before(oldest) {
		oldest = at
	}
	return port.Reservation{
		Allowed: true,
		Count:   count + 1,
		Oldest:  oldest,
		ID:      strconv.FormatUint(id, 10),
	}, nil
}

// ReleaseAttempt removes the hit with the given id.
func (s *CounterStore) ReleaseAttempt(_ context.Context, identifier, id string) error {
	target, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.hits[identifier]
	for i, h := range hits {
		if h.id != target {
			continue
		}
		hits = append(hits[:i], hits[i+1:]...)
		if len(hits) == 0 {
			delete(s.hits, identifier)
		} else {
			s.hits[identifier] = hits
		}
		return nil
	}
	return nil
}

// Sweep removes identifiers whose newest hit is older than cutoff.
func (s *CounterStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for identifier, hits := range s.hits {
		if len(hits) == 0 || hits[len(hits)-1].at.Before(cutoff) {
			delete(s.hits, identifier)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many identifiers are tracked.
func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

func (s *CounterStore) insertLocked(identifier string, at time.Time) uint64 {
	s.seq++
	hits := s.hits[identifier]
	idx := sort.Search(len(hits), func(i int) bool { return hits[i].at.After(at) })
	hits = append(hits, hit{})
	copy(hits[idx+1:], hits[idx:])
	hits[idx] = hit{at: at, id: s.seq}
	s.hits[identifier] = hits
	return s.seq
}

func (s *CounterStore) trimLocked(identifier string, start time.Time) {
	hits, ok := s.hits[identifier]
	if !ok {
		return
	}
	idx := sort.Search(len(hits), func(i int) bool { return !hits[i].at.Before(start) })
	if idx == len(hits) {
		delete(s.hits, identifier)
		return
	}
	s.hits[identifier] = append([]hit(nil), hits[idx:]...)
}

// windowLocked counts hits in [reference-window, reference] and returns the oldest of them.
func (s *CounterStore) windowLocked(identifier string, window time.Duration, reference time.Time) (int, time.Time) {
	start := reference.Add(-window)
	var (
		count  int
		oldest time.Time
	)
	for _, h := range s.hits[identifier] {
		if h.at.Before(start) || h.at.After(reference) {
			continue
		}
		if count == 0 {
			oldest = h.at
		}
		count++
	}
	return count, oldest
}

var _ port.CounterStore = (*CounterStore)(nil)
