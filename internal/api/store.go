package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/s4/internal/tensor"
)

type stateRecord struct {
	State     *tensor.CTensor
	CreatedAt time.Time
}

// StateStore keeps recurrent states between requests so a client can
// stream a long sequence chunk by chunk without shipping the state back.
// Stored states are never mutated; every update gets a new id.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*stateRecord
	limit  int
	order  []string
}

// NewStateStore returns a store holding at most limit states. The oldest
// state is evicted first. limit <= 0 means unbounded.
func NewStateStore(limit int) *StateStore {
	return &StateStore{states: make(map[string]*stateRecord), limit: limit}
}

func (s *StateStore) Put(state *tensor.CTensor, now time.Time) string {
	id := newStateID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = &stateRecord{State: state, CreatedAt: now}
	s.order = append(s.order, id)
	for s.limit > 0 && len(s.states) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.states, oldest)
	}
	return id
}

func (s *StateStore) Get(id string) (*tensor.CTensor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.states[id]
	if !ok {
		return nil, false
	}
	return rec.State, true
}

func (s *StateStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[id]; !ok {
		return false
	}
	delete(s.states, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func newStateID() string {
	return "state_" + uuid.NewString()
}

func newRequestID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
