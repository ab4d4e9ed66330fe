package service

import (
	"context"
	"errors"
	"sync"

	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/repository"
	"github.com/fastsubmit/formgate/internal/repository/memory"
)

var errStoreDown = errors.New("store unavailable")

// countingStore wraps the memory repository, counting lookups and
// optionally failing them.
type countingStore struct {
	*memory.MemoryRepository

	mu        sync.Mutex
	findCalls int
	getCalls  int
	findErr   error
	getErr    error

	// afterFind runs once a key lookup has read the store, before it returns.
	afterFind func(key string)
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryRepository: memory.New()}
}

func (s *countingStore) FindFormByAPIKey(ctx context.Context, key string) (*db.Form, error) {
	s.mu.Lock()
	s.findCalls++
	err := s.findErr
	hook := s.afterFind
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	form, err := s.MemoryRepository.FindFormByAPIKey(ctx, key)
	if hook != nil {
		hook(key)
	}
	return form, err
}

// gateFinds makes lookups of key block after reading the store until release
// is closed. reached is closed when the first such lookup is parked.
func (s *countingStore) gateFinds(key string) (reached chan struct{}, release chan struct{}) {
	reached = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	s.mu.Lock()
	s.afterFind = func(k string) {
		if k != key {
			return
		}
		once.Do(func() { close(reached) })
		<-release
	}
	s.mu.Unlock()
	return reached, release
}

func (s *countingStore) GetForm(ctx context.Context, id string) (*db.Form, error) {
	s.mu.Lock()
	s.getCalls++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryRepository.GetForm(ctx, id)
}

func (s *countingStore) finds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

var _ repository.Store = (*countingStore)(nil)
