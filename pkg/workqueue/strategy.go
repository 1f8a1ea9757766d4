package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run at once.
// The strategy tracks running tasks and decides whether another can start.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task can start given current state.
	CanStart() bool
	// OnStart is called when a task starts.
	OnStart()
	// OnComplete is called when a task finishes, whatever the outcome.
	OnComplete()
}

// BoundedStrategy allows up to max tasks to run concurrently.
type BoundedStrategy struct {
	mu      sync.Mutex
	max     int
	running int
}

// NewBoundedStrategy creates a strategy allowing max concurrent tasks.
// Values below 1 are treated as 1.
func NewBoundedStrategy(max int) *BoundedStrategy {
	if max < 1 {
		max = 1
	}
	return &BoundedStrategy{max: max}
}

// NewSerializedStrategy runs one task at a time.
func NewSerializedStrategy() *BoundedStrategy {
	return NewBoundedStrategy(1)
}

func (s *BoundedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.max
}

func (s *BoundedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *BoundedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}

// Running returns the number of tasks currently running.
func (s *BoundedStrategy) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Max returns the configured concurrency limit.
func (s *BoundedStrategy) Max() int {
	return s.max
}
