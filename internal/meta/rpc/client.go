package rpc

import (
	"context"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"

	"github.com/robustmq/robustmq/internal/errs"
)

// ErrForwardToLeader is returned by a non-leader member in response to a
// client write; Client retries against the next known member until the
// leader is found or the deadline expires (spec.md §7).
var ErrForwardToLeader = errs.New(errs.Unavailable, "forward to leader")

// MemberResolver returns the currently known set of meta-service member
// addresses the broker may dial, leader first if known. Concrete address
// resolution (DNS, static config, discovery) is left to the caller; this
// package only needs an ordered list to iterate.
type MemberResolver interface {
	Members() []string
}

// Client wraps calls to a ClientService implementation with the retry and
// circuit-breaking policy from spec.md §7: bounded exponential retry on
// Unavailable, immediate surfacing of every other error kind, and a
// sony/gobreaker circuit breaker per target member so a broker stops
// hammering a meta-service process that is already down. Grounded on the
// teacher's own vendored gobreaker dependency, used the same way: wrap an
// outbound call, let the breaker trip open after a run of failures, let
// it half-open itself after a cooldown.
type Client struct {
	dial     func(addr string) ClientService
	resolver MemberResolver
	breakers map[string]*gobreaker.CircuitBreaker

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(dial func(addr string) ClientService, resolver MemberResolver) *Client {
	return &Client{
		dial:       dial,
		resolver:   resolver,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		maxRetries: 5,
		baseDelay:  50 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *Client) breakerFor(addr string) *gobreaker.CircuitBreaker {
	if b, ok := c.breakers[addr]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	c.breakers[addr] = b
	return b
}

// Call runs fn against each known member in order, retrying with bounded
// exponential backoff (plus jitter) on errs.Unavailable / ErrForwardToLeader,
// and surfacing any other error kind immediately without retry.
func (c *Client) Call(ctx context.Context, fn func(ClientService) error) error {
	members := c.resolver.Members()
	if len(members) == 0 {
		return errs.New(errs.Unavailable, "no known meta-service members")
	}

	var lastErr error
	delay := c.baseDelay
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		addr := members[attempt%len(members)]
		breaker := c.breakerFor(addr)

		_, err := breaker.Execute(func() (any, error) {
			return nil, fn(c.dial(addr))
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if !errs.Retryable(err) && err != ErrForwardToLeader {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
	return lastErr
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
