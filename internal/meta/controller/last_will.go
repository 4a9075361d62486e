package controller

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

// LastWillFire fires a session's queued will message once its ReadyAt
// time arrives (spec.md §4.1: "Last-will is queued at CONNECT time and
// fired by the meta service's last-will controller after
// LastWillDelayInterval once the session ends abnormally"). Firing means
// pushing the will to the session's former broker via Notifier.SendLastWill
// and then clearing the will from the session record so it cannot fire
// twice.
type LastWillFire struct {
	cluster  string
	cache    *state.Cache
	proposer Proposer
	notifier Notifier
	logger   log.Logger
	interval time.Duration
	now      func() time.Time
}

func NewLastWillFire(cluster string, cache *state.Cache, proposer Proposer, notifier Notifier, logger log.Logger) *LastWillFire {
	return &LastWillFire{
		cluster:  cluster,
		cache:    cache,
		proposer: proposer,
		notifier: notifier,
		logger:   logger,
		interval: 5 * time.Second,
		now:      time.Now,
	}
}

func (l *LastWillFire) Name() string { return "last-will-fire" }

func (l *LastWillFire) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

func (l *LastWillFire) sweep(ctx context.Context) {
	now := l.now()
	var due []*model.Session
	l.cache.RangeSessions(l.cluster, func(sess *model.Session) bool {
		if sess.LastWill == nil || sess.ConnectionID != nil {
			return true
		}
		if !now.After(sess.LastWill.ReadyAt) {
			return true
		}
		due = append(due, sess)
		return true
	})

	for _, sess := range due {
		brokerID := uint64(0)
		if sess.BrokerID != nil {
			brokerID = *sess.BrokerID
		}
		if err := l.notifier.SendLastWill(brokerID, sess.ClientID, *sess.LastWill); err != nil {
			level.Error(l.logger).Log("msg", "failed to push last will", "client_id", sess.ClientID, "err", err)
			continue
		}
		cleared := *sess
		cleared.LastWill = nil
		if err := propose(ctx, l.proposer, state.MqttUpdateSession, &cleared); err != nil {
			level.Error(l.logger).Log("msg", "failed to clear fired last will", "client_id", sess.ClientID, "err", err)
		}
	}
}
