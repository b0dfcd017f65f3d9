package lifecycle

import "sync"

// OrderLocks serializes work on a single order within a process while
// letting different orders proceed in parallel.
type OrderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func NewOrderLocks() *OrderLocks {
	return &OrderLocks{locks: make(map[string]*orderLock)}
}

// Lock blocks until the order is free and returns the unlock function.
func (l *OrderLocks) Lock(orderID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[orderID]
	if !ok {
		lk = &orderLock{}
		l.locks[orderID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, orderID)
		}
		l.mu.Unlock()
	}
}
