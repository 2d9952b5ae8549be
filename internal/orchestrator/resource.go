package orchestrator

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// waiter is a pending allocation request queued on a resourcePool.
type waiter struct {
	amount    int
	exclusive bool
	priority  float64
	grant     chan struct{}
}

// resourcePool backs one resource type: a semaphore of `capacity` permits
// plus an exclusive-use flag and a FIFO (priority-ordered) list of waiters.
type resourcePool struct {
	mu             sync.Mutex
	capacity       int
	available      int
	exclusiveInUse bool
	waiters        *list.List // of *waiter
	breaker        *gobreaker.CircuitBreaker
}

// ResourceManager is the admission gate shared by every tool in an
// orchestration: one semaphore per resource type, with exclusive
// requirements serialized within a type.
type ResourceManager struct {
	mu             sync.Mutex
	pools          map[string]*resourcePool
	defaultCapacity int
	breakerEnabled bool
	breakerThreshold uint32
	logger         zerolog.Logger
	shutdown       bool
}

// NewResourceManager constructs a manager that lazily creates a pool of
// defaultCapacity permits the first time a resource type is seen.
func NewResourceManager(defaultCapacity int, breakerEnabled bool, breakerThreshold uint32, logger zerolog.Logger) *ResourceManager {
	if defaultCapacity <= 0 {
		defaultCapacity = 1
	}
	return &ResourceManager{
		pools:            make(map[string]*resourcePool),
		defaultCapacity:  defaultCapacity,
		breakerEnabled:   breakerEnabled,
		breakerThreshold: breakerThreshold,
		logger:           logger.With().Str("component", "resource_manager").Logger(),
	}
}

func (m *ResourceManager) poolFor(resourceType string) *resourcePool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[resourceType]
	if !ok {
		p = &resourcePool{
			capacity:  m.defaultCapacity,
			available: m.defaultCapacity,
			waiters:   list.New(),
		}
		if m.breakerEnabled {
			p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "resource:" + resourceType,
				MaxRequests: 1,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= m.breakerThreshold
				},
			})
		}
		m.pools[resourceType] = p
	}
	return p
}

// Allocate acquires `amount` permits of `resourceType`, blocking until they
// are available, the requirement's own timeout elapses, or ctx is
// cancelled. Exclusive requirements wait for the pool to be fully idle and
// block every later allocation of the same type until released.
func (m *ResourceManager) Allocate(ctx context.Context, req ResourceRequirement, priority float64) (*AllocatedResource, error) {
	if m.isShutdown() {
		return nil, &ResourceError{Kind: ResourceErrorShutdown, ResourceType: req.Type, Msg: "resource manager shut down"}
	}
	if req.Amount <= 0 {
		return nil, &ResourceError{Kind: ResourceErrorUnknown, ResourceType: req.Type, Msg: "amount must be positive"}
	}

	pool := m.poolFor(req.Type)

	attempt := func() (bool, error) {
		pool.mu.Lock()
		defer pool.mu.Unlock()

		if pool.breaker != nil {
			if state := pool.breaker.State(); state == gobreaker.StateOpen {
				return false, &ResourceError{Kind: ResourceErrorTimeout, ResourceType: req.Type, Msg: "circuit open for resource type"}
			}
		}

		if pool.tryAcquireLocked(req.Amount, req.Exclusive) {
			return true, nil
		}
		return false, nil
	}

	granted, err := attempt()
	if err != nil {
		return nil, err
	}
	if granted {
		return &AllocatedResource{Type: req.Type, Amount: req.Amount}, nil
	}

	w := &waiter{amount: req.Amount, exclusive: req.Exclusive, priority: priority, grant: make(chan struct{}, 1)}
	pool.mu.Lock()
	elem := enqueueWaiterLocked(pool.waiters, w)
	pool.mu.Unlock()

	waitCtx := ctx
	var cancel context.CancelFunc
	if req.AllocationTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, req.AllocationTimeout)
		defer cancel()
	}

	select {
	case <-w.grant:
		if pool.breaker != nil {
			_, _ = pool.breaker.Execute(func() (interface{}, error) { return nil, nil })
		}
		return &AllocatedResource{Type: req.Type, Amount: req.Amount}, nil
	case <-waitCtx.Done():
		pool.mu.Lock()
		pool.waiters.Remove(elem)
		pool.mu.Unlock()
		if pool.breaker != nil {
			_, _ = pool.breaker.Execute(func() (interface{}, error) { return nil, fmt.Errorf("timeout") })
		}
		return nil, &ResourceError{Kind: ResourceErrorTimeout, ResourceType: req.Type, Msg: "allocation timed out"}
	}
}

// tryAcquireLocked assumes pool.mu is held. It returns true and mutates pool
// state if the request can be satisfied immediately.
func (p *resourcePool) tryAcquireLocked(amount int, exclusive bool) bool {
	if p.exclusiveInUse {
		return false
	}
	if exclusive {
		if p.available != p.capacity {
			return false
		}
		p.exclusiveInUse = true
		p.available = 0
		return true
	}
	if p.available < amount {
		return false
	}
	p.available -= amount
	return true
}

// enqueueWaiterLocked inserts w into the FIFO, placed ahead of any
// lower-priority waiter already queued (stable for equal priority).
func enqueueWaiterLocked(waiters *list.List, w *waiter) *list.Element {
	for e := waiters.Back(); e != nil; e = e.Prev() {
		if e.Value.(*waiter).priority >= w.priority {
			return waiters.InsertAfter(w, e)
		}
	}
	return waiters.PushFront(w)
}

// Release returns a previously granted allocation to its pool, never
// panicking. Releasing an allocation of a resource type the manager has
// never seen is a no-op (logged). For a known type the amount is added back
// (capped at capacity) without checking that this allocation was held.
func (m *ResourceManager) Release(alloc *AllocatedResource) {
	if alloc == nil {
		return
	}
	m.mu.Lock()
	pool, ok := m.pools[alloc.Type]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn().Str("resource_type", alloc.Type).Msg("release of unknown resource type ignored")
		return
	}

	pool.mu.Lock()
	if pool.exclusiveInUse {
		pool.exclusiveInUse = false
		pool.available = pool.capacity
	} else {
		pool.available += alloc.Amount
		if pool.available > pool.capacity {
			pool.available = pool.capacity
		}
	}
	pool.wakeWaitersLocked()
	pool.mu.Unlock()
}

// wakeWaitersLocked assumes pool.mu is held; it grants as many queued
// waiters as current availability allows, front to back.
func (p *resourcePool) wakeWaitersLocked() {
	for {
		front := p.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		if !p.tryAcquireLocked(w.amount, w.exclusive) {
			return
		}
		p.waiters.Remove(front)
		w.grant <- struct{}{}
	}
}

// Shutdown marks the manager unavailable for new allocations; in-flight
// waiters still resolve via their own context/timeout.
func (m *ResourceManager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

func (m *ResourceManager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// CircuitState reports the gobreaker state for a resource type, or
// StateClosed if no breaker has been created for it yet (supplements the
// original's always-Closed stub with a real breaker per type).
func (m *ResourceManager) CircuitState(resourceType string) gobreaker.State {
	m.mu.Lock()
	p, ok := m.pools[resourceType]
	m.mu.Unlock()
	if !ok || p.breaker == nil {
		return gobreaker.StateClosed
	}
	return p.breaker.State()
}
