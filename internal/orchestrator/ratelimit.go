package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/toolmind/pkg/harnessports"
)

// ToolRateLimiter throttles tool invocations by name using a token bucket
// per tool, independent of resource admission: a tool can be admitted by the
// ResourceManager and still be throttled here, e.g. to respect an external
// API's rate limit that has nothing to do with local resource capacity.
// Adapted from the teacher's harness token-bucket adapter.
type ToolRateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	capacity   int
	refillRate time.Duration
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewToolRateLimiter builds a rate limiter where each tool name gets its own
// bucket of capacity tokens, refilling one token every refillRate.
func NewToolRateLimiter(capacity int, refillRate time.Duration) *ToolRateLimiter {
	return &ToolRateLimiter{
		buckets:    make(map[string]*tokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// ErrRateLimitExceeded is returned when a tool name's bucket has no tokens.
type ErrRateLimitExceeded struct {
	ToolName string
}

func (e *ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for tool %q", e.ToolName)
}

// Acquire takes one token for toolName, blocking only long enough to check
// ctx; it never waits for a refill. The caller calls release() once the
// attempt (success or failure) is done.
func (rl *ToolRateLimiter) Acquire(ctx context.Context, toolName string) (release func(), err error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[toolName]
	if !ok {
		b = &tokenBucket{tokens: rl.capacity, lastRefill: time.Now()}
		rl.buckets[toolName] = b
	}

	elapsed := time.Since(b.lastRefill)
	if refills := int(elapsed / rl.refillRate); refills > 0 {
		b.tokens = minInt(b.tokens+refills, rl.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refills) * rl.refillRate)
	}

	if b.tokens <= 0 {
		return nil, &ErrRateLimitExceeded{ToolName: toolName}
	}
	b.tokens--

	release = func() {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		if b, ok := rl.buckets[toolName]; ok {
			b.tokens = minInt(b.tokens+1, rl.capacity)
		}
	}
	return release, nil
}

var _ harnessports.RateLimiter = (*ToolRateLimiter)(nil)

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
