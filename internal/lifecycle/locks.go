package lifecycle

import "sync"

// IssueLocks serializes writers per issue. Manual actions and the sweep
// share one instance so no two writers touch the same issue concurrently.
type IssueLocks struct {
	locks sync.Map // issue id -> *sync.Mutex
}

// NewIssueLocks creates an empty lock set.
func NewIssueLocks() *IssueLocks {
	return &IssueLocks{}
}

// Lock acquires the mutex for the given issue and returns its unlock func.
func (l *IssueLocks) Lock(issueID string) func() {
	entry, _ := l.locks.LoadOrStore(issueID, &sync.Mutex{})
	mu := entry.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
