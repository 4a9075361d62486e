// Package controller implements the meta service's leader-only background
// workers (spec.md §4.2, §5: "Controllers run as independent loops on the
// leader; each loop holds a broadcast::Receiver for a shutdown signal").
// Each Controller starts exactly when this process observes Raft
// leadership acquisition and stops exactly on loss, grounded on
// original_source/src/meta-service/src/raft/leadership.rs's
// monitoring_leader_transition, translated from a tokio broadcast channel
// into a per-run context cancellation.
package controller

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/meta/raftnode"
)

// Controller is one leader-gated background worker. Run blocks until ctx
// is cancelled; Supervisor cancels it on leadership loss.
type Controller interface {
	Name() string
	Run(ctx context.Context)
}

// Supervisor watches a raftnode.Node's leadership transitions and
// starts/stops every registered Controller in lockstep, mirroring
// start_controller/stop_controller from the original leadership monitor.
type Supervisor struct {
	logger      log.Logger
	controllers []Controller

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor(logger log.Logger, controllers ...Controller) *Supervisor {
	return &Supervisor{logger: logger, controllers: controllers}
}

// Watch blocks consuming leadership transitions from ch until ctx is
// cancelled. Call it in its own goroutine.
func (s *Supervisor) Watch(ctx context.Context, ch <-chan raftnode.LeadershipState) {
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case state, ok := <-ch:
			if !ok {
				s.stopAll()
				return
			}
			if state == raftnode.IsLeader {
				s.startAll()
			} else {
				s.stopAll()
			}
		}
	}
}

func (s *Supervisor) startAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return // already running
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, c := range s.controllers {
		c := c
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			level.Info(s.logger).Log("msg", "controller starting", "controller", c.Name())
			c.Run(runCtx)
			level.Info(s.logger).Log("msg", "controller stopped", "controller", c.Name())
		}()
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
