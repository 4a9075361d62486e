package controller

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/state"
)

// NodeHeartbeatTimeout removes a BrokerNode record once its process has
// stopped heartbeating for longer than the configured timeout (spec.md
// §6 env/config "heartbeat_{timeout,check_time}_ms"). Connector
// scheduling reads node presence from the cache this controller keeps
// accurate.
type NodeHeartbeatTimeout struct {
	cluster     string
	clusterType model.ClusterType
	cache       *state.Cache
	proposer    Proposer
	logger      log.Logger
	checkEvery  time.Duration
	timeout     time.Duration
	lastSeen    func(nodeID uint64) (time.Time, bool)
}

func NewNodeHeartbeatTimeout(
	cluster string,
	clusterType model.ClusterType,
	cache *state.Cache,
	proposer Proposer,
	checkEvery, timeout time.Duration,
	lastSeen func(nodeID uint64) (time.Time, bool),
	logger log.Logger,
) *NodeHeartbeatTimeout {
	return &NodeHeartbeatTimeout{
		cluster:     cluster,
		clusterType: clusterType,
		cache:       cache,
		proposer:    proposer,
		logger:      logger,
		checkEvery:  checkEvery,
		timeout:     timeout,
		lastSeen:    lastSeen,
	}
}

func (n *NodeHeartbeatTimeout) Name() string { return "node-heartbeat-timeout" }

func (n *NodeHeartbeatTimeout) Run(ctx context.Context) {
	ticker := time.NewTicker(n.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sweep(ctx)
		}
	}
}

func (n *NodeHeartbeatTimeout) sweep(ctx context.Context) {
	now := time.Now()
	nodes := n.cache.ListNodes(func(string) bool { return true })
	for _, node := range nodes {
		if node.ClusterName != n.cluster || node.ClusterType != n.clusterType {
			continue
		}
		seen, ok := n.lastSeen(node.NodeID)
		if !ok || now.Sub(seen) <= n.timeout {
			continue
		}
		if err := propose(ctx, n.proposer, state.ClusterDeleteNode, node); err != nil {
			level.Error(n.logger).Log("msg", "failed to propose node timeout removal", "node_id", node.NodeID, "err", err)
		}
	}
}
