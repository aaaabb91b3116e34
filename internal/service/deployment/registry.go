package deployment

import (
	"sort"
	"sync"

	"bothost/pkg/metrics"
)

// monitorRegistry owns the set of active monitors. Membership is the only
// record of whether a deployment is being watched.
type monitorRegistry struct {
	mu       sync.Mutex
	monitors map[int64]*monitor
}

func newMonitorRegistry() *monitorRegistry {
	return &monitorRegistry{monitors: make(map[int64]*monitor)}
}

// register adds m unless the id already has a monitor
func (r *monitorRegistry) register(m *monitor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.monitors[m.id]; exists {
		return false
	}
	r.monitors[m.id] = m
	metrics.ActiveMonitors.Set(float64(len(r.monitors)))
	return true
}

// remove deletes m only if it is still the registered monitor for its id
func (r *monitorRegistry) remove(m *monitor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.monitors[m.id]; !ok || cur != m {
		return false
	}
	delete(r.monitors, m.id)
	metrics.ActiveMonitors.Set(float64(len(r.monitors)))
	return true
}

// take removes and returns the monitor of id
func (r *monitorRegistry) take(id int64) *monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	if !ok {
		return nil
	}
	delete(r.monitors, id)
	metrics.ActiveMonitors.Set(float64(len(r.monitors)))
	return m
}

func (r *monitorRegistry) get(id int64) *monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitors[id]
}

func (r *monitorRegistry) ids() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *monitorRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

// idSet is a concurrent set of deployment ids
type idSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newIDSet() *idSet {
	return &idSet{ids: make(map[int64]struct{})}
}

func (s *idSet) add(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *idSet) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *idSet) has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}
