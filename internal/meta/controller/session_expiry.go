package controller

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

// SessionExpiry deletes durable sessions whose client has not reconnected
// within SessionExpiry seconds of the session going offline (spec.md §3
// Session, §4.1 connection-state table: "persist session if expiry>0 else
// delete").
type SessionExpiry struct {
	cluster  string
	cache    *state.Cache
	proposer Proposer
	logger   log.Logger
	interval time.Duration
	now      func() time.Time
}

func NewSessionExpiry(cluster string, cache *state.Cache, proposer Proposer, logger log.Logger) *SessionExpiry {
	return &SessionExpiry{
		cluster:  cluster,
		cache:    cache,
		proposer: proposer,
		logger:   logger,
		interval: 30 * time.Second,
		now:      time.Now,
	}
}

func (s *SessionExpiry) Name() string { return "session-expiry" }

func (s *SessionExpiry) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SessionExpiry) sweep(ctx context.Context) {
	now := s.now()
	var expired []*model.Session
	s.cache.RangeSessions(s.cluster, func(sess *model.Session) bool {
		if sess.ConnectionID != nil {
			return true // still connected, not eligible
		}
		if sess.SessionExpiry == 0 {
			expired = append(expired, sess)
			return true
		}
		deadline := sess.LastUpdateTime.Add(time.Duration(sess.SessionExpiry) * time.Second)
		if now.After(deadline) {
			expired = append(expired, sess)
		}
		return true
	})

	for _, sess := range expired {
		if err := propose(ctx, s.proposer, state.MqttDeleteSession, sess); err != nil {
			level.Error(s.logger).Log("msg", "failed to propose session expiry", "client_id", sess.ClientID, "err", err)
		}
	}
}
