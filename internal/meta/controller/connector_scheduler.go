package controller

import (
	"context"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

// ConnectorScheduler assigns each Connector to exactly one live broker
// (spec.md §3 invariant: "Running on exactly one broker at a time") and
// reassigns it if its current owner's heartbeat goes stale, round-robin
// over the live node set so load spreads evenly across brokers.
type ConnectorScheduler struct {
	cluster          string
	cache            *state.Cache
	proposer         Proposer
	logger           log.Logger
	interval         time.Duration
	heartbeatTimeout time.Duration
	now              func() time.Time
	cursor           int
}

func NewConnectorScheduler(cluster string, cache *state.Cache, proposer Proposer, heartbeatTimeout time.Duration, logger log.Logger) *ConnectorScheduler {
	return &ConnectorScheduler{
		cluster:          cluster,
		cache:            cache,
		proposer:         proposer,
		logger:           logger,
		interval:         10 * time.Second,
		heartbeatTimeout: heartbeatTimeout,
		now:              time.Now,
	}
}

func (c *ConnectorScheduler) Name() string { return "connector-scheduler" }

func (c *ConnectorScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconcile(ctx)
		}
	}
}

func (c *ConnectorScheduler) reconcile(ctx context.Context) {
	nodes := c.liveBrokerIDs()
	if len(nodes) == 0 {
		return
	}

	now := c.now()
	var stale []*model.Connector
	c.cache.RangeConnectors(c.cluster, func(_ string, conn *model.Connector) bool {
		needsAssignment := conn.BrokerID == nil
		if conn.BrokerID != nil && conn.Status == model.ConnectorRunning {
			if now.Sub(conn.LastHeartbeat) > c.heartbeatTimeout {
				needsAssignment = true
			}
		}
		if needsAssignment {
			stale = append(stale, conn)
		}
		return true
	})

	for _, conn := range stale {
		target := nodes[c.cursor%len(nodes)]
		c.cursor++
		updated := *conn
		updated.BrokerID = &target
		updated.Status = model.ConnectorRunning
		updated.UpdateTime = now
		updated.LastHeartbeat = now // the new owner's heartbeat window starts at assignment
		if err := propose(ctx, c.proposer, state.MqttSetConnector, &updated); err != nil {
			level.Error(c.logger).Log("msg", "failed to reassign connector", "connector", conn.ConnectorName, "err", err)
		}
	}
}

func (c *ConnectorScheduler) liveBrokerIDs() []uint64 {
	nodes := c.cache.ListNodes(func(string) bool { return true })
	var ids []uint64
	for _, n := range nodes {
		if n.ClusterName == c.cluster && n.ClusterType == model.ClusterTypeMQTT {
			ids = append(ids, n.NodeID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
