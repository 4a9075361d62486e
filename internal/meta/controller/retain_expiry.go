package controller

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

// RetainExpiry clears a topic's retained message once it has lived past
// its expiry interval. Per the Open Question resolution in DESIGN.md, a
// non-zero RetainMessage.ExpiryInterval overrides ClusterDefaultExpiry; a
// zero ExpiryInterval defers to the cluster default, and a zero cluster
// default means retained messages never expire.
type RetainExpiry struct {
	cluster        string
	cache          *state.Cache
	proposer       Proposer
	logger         log.Logger
	interval       time.Duration
	clusterDefault time.Duration
	now            func() time.Time
}

func NewRetainExpiry(cluster string, cache *state.Cache, proposer Proposer, clusterDefault time.Duration, logger log.Logger) *RetainExpiry {
	return &RetainExpiry{
		cluster:        cluster,
		cache:          cache,
		proposer:       proposer,
		logger:         logger,
		interval:       time.Minute,
		clusterDefault: clusterDefault,
		now:            time.Now,
	}
}

func (r *RetainExpiry) Name() string { return "retain-expiry" }

func (r *RetainExpiry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *RetainExpiry) sweep(ctx context.Context) {
	now := r.now()
	var expired []*model.Topic
	r.cache.RangeTopics(r.cluster, func(t *model.Topic) bool {
		if t.Retain == nil {
			return true
		}
		ttl := r.clusterDefault
		if t.Retain.ExpiryInterval > 0 {
			ttl = time.Duration(t.Retain.ExpiryInterval) * time.Second
		}
		if ttl <= 0 {
			return true // no expiry configured anywhere
		}
		if now.After(t.Retain.Timestamp.Add(ttl)) {
			expired = append(expired, t)
		}
		return true
	})

	for _, t := range expired {
		cleared := *t
		cleared.Retain = nil
		if err := propose(ctx, r.proposer, state.MqttSetTopic, &cleared); err != nil {
			level.Error(r.logger).Log("msg", "failed to clear expired retain", "topic", t.TopicName, "err", err)
		}
	}
}
