package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// LockManager is an in-process domain.LockManager with expiring locks.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	clock func() time.Time
	next  uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), clock: time.Now}
}

// Acquire takes key for ttl. It fails with domain.ErrLockHeld while another
// unexpired lease exists. The returned unlock releases only this lease.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	now := lm.clock()
	if l, ok := lm.held[key]; ok && now.Before(l.expires) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	lm.next++
	token := lm.next
	lm.held[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
