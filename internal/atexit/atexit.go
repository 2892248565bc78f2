// Package atexit provides a small LIFO cleanup stack. A build root
// accumulates cleanup actions as it is populated (its scratch directory,
// then the devpts and procfs mounts); Stack.Run unwinds them in reverse
// order, so proc is unmounted before devpts and both before the build root
// itself is removed.
package atexit

import "sync"

// Stack is a LIFO list of cleanup actions, scoped to a single build.
type Stack struct {
	mu  sync.Mutex
	fns []func() error
}

// Push registers a cleanup action to run, in reverse order, when Run is
// called.
func (s *Stack) Push(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// Run executes every registered action in reverse registration order,
// continuing past errors and returning the first one encountered.
func (s *Stack) Run() error {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	var firstErr error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
