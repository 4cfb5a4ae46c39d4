package pace

import "sync"

// Lifecycle owns every ChannelResult produced during a run.
type Lifecycle struct {
	mu      sync.Mutex
	results []*ChannelResult
	closed  bool
}

// NewLifecycle creates an empty lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Track takes ownership of r. After Close, r is released immediately.
func (l *Lifecycle) Track(r *ChannelResult) {
	if r == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		r.Release()
		return
	}
	l.results = append(l.results, r)
	l.mu.Unlock()
}

// Len returns the number of results tracked and not yet released by Close.
func (l *Lifecycle) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

// Close releases all tracked results, newest first. Safe to call repeatedly.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	results := l.results
	l.results = nil
	l.closed = true
	l.mu.Unlock()

	for i := len(results) - 1; i >= 0; i-- {
		results[i].Release()
	}
	return nil
}
