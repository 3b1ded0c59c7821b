package llmgateway

import (
	"context"
	"sync"
)

// semaphore is a counting semaphore with FIFO waiter order: if A then B then
// C each call acquire while the gateway is saturated, they are granted a
// slot in that order, never reordered by scheduler luck. Acquire/Release are
// the only entry points; Active/Pending are read-only observability.
type semaphore struct {
	mu      sync.Mutex
	cap     int
	active  int
	waiters []chan struct{}
}

func newSemaphore(capacity int) *semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &semaphore{cap: capacity}
}

// acquire blocks until a slot is available or ctx is done. On context
// cancellation while queued, the waiter removes itself from the line.
func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.cap {
		s.active++
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// release either frees a slot or hands it directly to the longest-waiting
// acquirer, so a waiter never has to re-race a newcomer for a freed slot.
func (s *semaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	if s.active > 0 {
		s.active--
	}
}

func (s *semaphore) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *semaphore) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
