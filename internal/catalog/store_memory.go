package catalog

import (
	"context"
	"sync"
	"time"

	"protokoll/pkg/platform/sentinel"
)

// In-memory stores back the engine when no external CRUD layer is attached
// and serve as the test seam. They intentionally favor clarity over
// performance.

type InMemoryItemStore struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewInMemoryItemStore(items ...Item) *InMemoryItemStore {
	s := &InMemoryItemStore{items: make(map[string]Item, len(items))}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func (s *InMemoryItemStore) Save(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

func (s *InMemoryItemStore) List(_ context.Context) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	return out, nil
}

func (s *InMemoryItemStore) Get(_ context.Context, id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if it, ok := s.items[id]; ok {
		return it, nil
	}
	return Item{}, sentinel.ErrNotFound
}

// ApplyWearStats updates each referenced item in place. Missing items are
// skipped individually so one stale reference cannot abort the batch.
func (s *InMemoryItemStore) ApplyWearStats(_ context.Context, deltas map[string]WearStatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, delta := range deltas {
		it, ok := s.items[id]
		if !ok {
			continue
		}
		it.WearCount += delta.WearCount
		it.TotalMinutes += delta.Minutes
		wornAt := delta.WornAt
		it.LastWornAt = &wornAt
		s.items[id] = it
	}
	return nil
}

type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]WearSession
}

func NewInMemorySessionStore(sessions ...WearSession) *InMemorySessionStore {
	s := &InMemorySessionStore{sessions: make(map[string]WearSession, len(sessions))}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}
	return s
}

func (s *InMemorySessionStore) Save(_ context.Context, session WearSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *InMemorySessionStore) Open(_ context.Context) ([]WearSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WearSession
	for _, sess := range s.sessions {
		if sess.Open() {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *InMemorySessionStore) OpenByType(_ context.Context, t SessionType) ([]WearSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WearSession
	for _, sess := range s.sessions {
		if sess.Open() && sess.Type == t {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *InMemorySessionStore) ListRange(_ context.Context, from, to time.Time) ([]WearSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WearSession
	for _, sess := range s.sessions {
		if sess.StartedAt.Before(to) && sess.EndOrNow(to).After(from) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *InMemorySessionStore) Annotate(_ context.Context, sessionID, tzdResult string, executed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	sess.TZDResult = tzdResult
	sess.TZDExecuted = executed
	s.sessions[sessionID] = sess
	return nil
}

type InMemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]WearPlan
}

func NewInMemoryPlanStore(plans ...WearPlan) *InMemoryPlanStore {
	s := &InMemoryPlanStore{plans: make(map[string]WearPlan, len(plans))}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

func (s *InMemoryPlanStore) Save(_ context.Context, plan WearPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	return nil
}

func (s *InMemoryPlanStore) Upcoming(_ context.Context, from, until time.Time) ([]WearPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WearPlan
	for _, p := range s.plans {
		if !p.Date.Before(from) && p.Date.Before(until) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryPlanStore) ForDate(_ context.Context, date time.Time) (WearPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	y, m, d := date.Date()
	for _, p := range s.plans {
		py, pm, pd := p.Date.Date()
		if py == y && pm == m && pd == d {
			return p, nil
		}
	}
	return WearPlan{}, sentinel.ErrNotFound
}
