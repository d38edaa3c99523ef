// Package frame defers work to the next render frame. A task scheduled under
// a key replaces any task still pending under the same key, so bursts of
// edits collapse into one recompute per frame.
package frame

import "sync"

// Scheduler queues keyed tasks until the host calls Flush.
type Scheduler struct {
	mu      sync.Mutex
	order   []string
	pending map[string]func()
}

func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[string]func())}
}

// Schedule queues fn under key. A pending task with the same key is dropped;
// the key keeps its original place in the queue.
func (s *Scheduler) Schedule(key string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; !ok {
		s.order = append(s.order, key)
	}
	s.pending[key] = fn
}

// Cancel drops the task pending under key.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; !ok {
		return false
	}
	delete(s.pending, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Pending reports whether a task is queued under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Len is the number of queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Flush runs every task queued before the call, in scheduling order, and
// returns how many ran. Tasks scheduled while flushing wait for the next
// frame.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	order, pending := s.order, s.pending
	s.order = nil
	s.pending = make(map[string]func())
	s.mu.Unlock()

	for _, key := range order {
		pending[key]()
	}
	return len(order)
}
