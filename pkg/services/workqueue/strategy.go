package workqueue

// ConcurrencyStrategy decides how many tasks may run at once.
// Implementations are called with the queue's lock held and must not block.
type ConcurrencyStrategy interface {
	// CanStart reports whether another task may start now.
	CanStart() bool
	// OnStart records that a task started.
	OnStart()
	// OnComplete records that a task finished (any terminal state).
	OnComplete()
}

// serializedStrategy runs one task at a time.
type serializedStrategy struct {
	running int
}

// NewSerializedStrategy returns a strategy that runs tasks strictly one at a time.
func NewSerializedStrategy() ConcurrencyStrategy {
	return &serializedStrategy{}
}

func (s *serializedStrategy) CanStart() bool { return s.running == 0 }
func (s *serializedStrategy) OnStart()       { s.running++ }
func (s *serializedStrategy) OnComplete()    { s.running-- }

// throttledStrategy runs up to maxConcurrent tasks at a time.
type throttledStrategy struct {
	running       int
	maxConcurrent int
}

// NewThrottledStrategy returns a strategy that allows up to maxConcurrent
// tasks to run in parallel. Values below 1 are treated as 1.
func NewThrottledStrategy(maxConcurrent int) ConcurrencyStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &throttledStrategy{maxConcurrent: maxConcurrent}
}

func (s *throttledStrategy) CanStart() bool { return s.running < s.maxConcurrent }
func (s *throttledStrategy) OnStart()       { s.running++ }
func (s *throttledStrategy) OnComplete()    { s.running-- }
