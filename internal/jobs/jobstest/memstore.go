// Package jobstest provides an in-memory jobs.Store for tests.
package jobstest

import (
	"context"
	"sync"
	"time"

	"github.com/lazarusking/theaccelbot/internal/jobs"
)

// MemStore is a thread-safe in-memory store that keeps insertion order.
// The Fail* fields inject errors into the matching operation.
type MemStore struct {
	mu      sync.Mutex
	records map[string]jobs.Record
	order   []string

	FailCreate error
	FailGet    error
	FailList   error
	FailUpdate error
	FailDelete error

	Updates int
	Deletes int
}

// NewMemStore returns a store seeded with records, in order.
func NewMemStore(records ...jobs.Record) *MemStore {
	s := &MemStore{records: make(map[string]jobs.Record)}
	for _, r := range records {
		s.records[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	return s
}

func (s *MemStore) Create(_ context.Context, r jobs.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return "", s.FailCreate
	}
	if _, ok := s.records[r.ID]; ok {
		return "", jobs.ErrDuplicateID
	}
	r.NextFireAt = r.NextFireAt.UTC()
	s.records[r.ID] = r
	s.order = append(s.order, r.ID)
	return r.ID, nil
}

func (s *MemStore) Get(_ context.Context, id string) (jobs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGet != nil {
		return jobs.Record{}, s.FailGet
	}
	r, ok := s.records[id]
	if !ok {
		return jobs.Record{}, jobs.ErrNotFound
	}
	return r, nil
}

func (s *MemStore) ListByOwner(_ context.Context, chat int64) ([]jobs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailList != nil {
		return nil, s.FailList
	}
	var out []jobs.Record
	for _, id := range s.order {
		if r := s.records[id]; r.OwnerChat == chat {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemStore) ListAll(_ context.Context) ([]jobs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailList != nil {
		return nil, s.FailList
	}
	out := make([]jobs.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemStore) UpdateNextFire(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != nil {
		return s.FailUpdate
	}
	r, ok := s.records[id]
	if !ok {
		return jobs.ErrNotFound
	}
	r.NextFireAt = at.UTC()
	s.records[id] = r
	s.Updates++
	return nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		return s.FailDelete
	}
	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.Deletes++
	return nil
}

// Has reports whether id is stored.
func (s *MemStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// Len returns the number of stored records.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// SetFailDelete sets FailDelete under the lock.
func (s *MemStore) SetFailDelete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailDelete = err
}

// SetFailUpdate sets FailUpdate under the lock.
func (s *MemStore) SetFailUpdate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailUpdate = err
}

var _ jobs.Store = (*MemStore)(nil)
