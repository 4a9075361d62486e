// Command meta-service runs the RobustMQ meta service: the Raft-replicated
// control plane that owns cluster membership, users/ACLs, topics,
// sessions, and journal shard/segment metadata (spec.md §4.2).
//
// The wire transport that carries Raft messages and InnerService RPCs
// between meta-service processes is out of scope (spec.md §1 Non-goals);
// this binary wires everything up to that boundary and leaves the actual
// dialing to the raftnode.Transport and state.Sink injection points.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"github.com/robustmq/robustmq/internal/config"
	"github.com/robustmq/robustmq/internal/logging"
	"github.com/robustmq/robustmq/internal/meta/controller"
	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/raftnode"
	"github.com/robustmq/robustmq/internal/meta/rpc"
	"github.com/robustmq/robustmq/internal/meta/state"
	"github.com/robustmq/robustmq/internal/meta/store"
)

func main() {
	configPath := flag.String("config", "./config/meta-service.toml", "path to the meta-service TOML config")
	flag.Parse()

	cfg, err := config.ParseFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("meta-service", cfg.Log.Level)
	level.Info(logger).Log("msg", "starting meta-service", "cluster", cfg.ClusterName, "broker_id", cfg.BrokerID)

	kv, err := store.Open(cfg.Journal.StoragePath + "/meta.db")
	if err != nil {
		level.Error(logger).Log("msg", "failed opening kv store", "err", err)
		os.Exit(1)
	}
	defer kv.Close()

	cache := state.NewCache()
	sink := &logSink{logger: logger}
	machine := state.NewMachine(kv, cache, sink)

	transport := &loopbackTransport{logger: logger}
	node := raftnode.New(raftnode.Config{
		NodeID:       cfg.BrokerID,
		TickInterval: 100 * time.Millisecond,
	}, kv, machine, transport, logger)

	proposer := node
	clientService := rpc.NewServer(cfg.BrokerID, machine, node)
	_ = clientService // bound to a wire transport once one is plugged in; see package doc.

	lastSeen := func(nodeID uint64) (time.Time, bool) {
		n, ok := cache.GetNode(store.NodeKey(cfg.ClusterName, string(model.ClusterTypeMQTT), nodeID))
		if !ok || n == nil {
			return time.Time{}, false
		}
		return n.StartTime, true // the Heartbeat RPC refreshes StartTime
	}
	notifier := &loggingNotifier{logger: logger}

	supervisor := controller.NewSupervisor(logger,
		controller.NewSessionExpiry(cfg.ClusterName, cache, proposer, logger),
		controller.NewRetainExpiry(cfg.ClusterName, cache, proposer, 0, logger),
		controller.NewLastWillFire(cfg.ClusterName, cache, proposer, notifier, logger),
		controller.NewConnectorScheduler(cfg.ClusterName, cache, proposer, time.Duration(cfg.HeartbeatTimeoutMS)*time.Millisecond, logger),
		controller.NewNodeHeartbeatTimeout(
			cfg.ClusterName, model.ClusterTypeMQTT, cache, proposer,
			time.Duration(cfg.HeartbeatCheckTimeMS)*time.Millisecond,
			time.Duration(cfg.HeartbeatTimeoutMS)*time.Millisecond,
			lastSeen, logger,
		),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go node.Run()
	go supervisor.Watch(ctx, node.WatchLeadership())

	level.Info(logger).Log("msg", "meta-service ready")
	<-ctx.Done()

	level.Info(logger).Log("msg", "shutting down meta-service")
	node.Stop()
}

// loopbackTransport is the default raftnode.Transport for a single-node
// deployment: there are no peers to send to, so Send is a no-op that only
// logs unexpected traffic. A real deployment replaces this with whatever
// inner-RPC client dials the other meta-service processes listed in
// cfg.PlacementCenter; that dialing is wire-level detail out of scope here.
type loopbackTransport struct {
	logger log.Logger
}

func (t *loopbackTransport) Send(msgs []raftpb.Message) {
	if len(msgs) > 0 {
		level.Debug(t.logger).Log("msg", "dropping raft message, no peer transport configured", "count", len(msgs))
	}
}

// logSink is the default state.Sink: it logs cache updates instead of
// fanning them out over InnerService to brokers. A real deployment
// replaces this with the broker-facing RPC fan-out; that transport is out
// of scope here the same way loopbackTransport is.
type logSink struct {
	logger log.Logger
}

func (s *logSink) Broadcast(clusterName string, update state.CacheUpdate) {
	level.Debug(s.logger).Log("msg", "cache update", "cluster", clusterName, "resource", update.ResourceType, "action", update.Action)
}

// loggingNotifier is the default controller.Notifier: last-will delivery
// and remote session teardown both cross into broker-facing InnerService
// RPCs that are out of scope here, so this just logs the intent.
type loggingNotifier struct {
	logger log.Logger
}

func (n *loggingNotifier) SendLastWill(brokerID uint64, clientID string, will model.LastWill) error {
	level.Debug(n.logger).Log("msg", "last-will ready", "broker_id", brokerID, "client_id", clientID, "topic", will.Topic)
	return nil
}

func (n *loggingNotifier) DeleteSession(clusterName, clientID string) error {
	level.Debug(n.logger).Log("msg", "session deleted", "cluster", clusterName, "client_id", clientID)
	return nil
}
