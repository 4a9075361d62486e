// Command mqtt-broker runs the MQTT broker process: the PUBLISH dispatch
// pipeline, subscription matching, authentication chain and connection
// lifecycle spec.md §4.1 describes, talking to the meta service over the
// RPCs §6 names and to the journal storage engine for persistence (§4.3).
//
// The MQTT wire codec (CONNECT/PUBLISH/SUBSCRIBE packet framing over
// TCP/TLS/WebSocket/QUIC) and the gRPC/tonic transport that would carry
// meta-service RPCs between processes are both out of scope (spec.md §1
// Non-goals); this binary wires the broker-local object graph
// (internal/mqttbroker.Broker) up to those two boundaries and leaves the
// wire-level work to whatever codec/transport collaborator is plugged in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/config"
	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/journal/backend/local"
	"github.com/robustmq/robustmq/internal/journal/index"
	"github.com/robustmq/robustmq/internal/logging"
	"github.com/robustmq/robustmq/internal/meta/rpc"
	"github.com/robustmq/robustmq/internal/mqttbroker"
	"github.com/robustmq/robustmq/internal/mqttbroker/listener"
	"github.com/robustmq/robustmq/internal/mqttbroker/publish"
)

func main() {
	configPath := flag.String("config", "./config/mqtt-broker.toml", "path to the mqtt-broker TOML config")
	flag.Parse()

	cfg, err := config.ParseFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("mqtt-broker", cfg.Log.Level)
	level.Info(logger).Log("msg", "starting mqtt-broker", "cluster", cfg.ClusterName, "broker_id", cfg.BrokerID)

	backend, err := local.New(cfg.Journal.StoragePath)
	if err != nil {
		level.Error(logger).Log("msg", "failed opening local backend", "err", err)
		os.Exit(1)
	}
	idx, err := index.Open(cfg.Journal.StoragePath + "/index.db")
	if err != nil {
		level.Error(logger).Log("msg", "failed opening journal index", "err", err)
		os.Exit(1)
	}
	defer idx.Close()

	meta := journal.NewSingleNodeMeta(idx)
	engine := journal.NewEngine(journal.Config{
		LocalRoot:       cfg.Journal.StoragePath,
		SegmentMaxBytes: cfg.Journal.SegmentMaxBytes,
		Backend:         backend,
		Index:           idx,
		Locator:         meta,
		Opener:          meta,
		OnSealed:        meta.OnSealed,
	}, logger)

	resolver := staticMembers(cfg.PlacementCenter)
	client := rpc.NewClient(undialedClientService, resolver)

	pusher := &loggingPusher{logger: logger}
	broker := mqttbroker.New(cfg.ClusterName, cfg.BrokerID, client, engine, pusher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go broker.DelayDrain.Run(ctx)

	wsAddr := ":" + strconv.Itoa(int(cfg.MQTT.WSPort))
	wsListener, err := listener.Listen(wsAddr, "/mqtt", logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed opening ws listener", "addr", wsAddr, "err", err)
		os.Exit(1)
	}
	go acceptLoop(ctx, wsListener, logger)

	level.Info(logger).Log("msg", "mqtt-broker ready",
		"mqtt4", cfg.MQTT.MQTT4Port, "mqtt5", cfg.MQTT.MQTT5Port, "ws", cfg.MQTT.WSPort)
	<-ctx.Done()
	level.Info(logger).Log("msg", "shutting down mqtt-broker")
	if err := wsListener.Close(); err != nil {
		level.Warn(logger).Log("msg", "error closing ws listener", "err", err)
	}
}

// acceptLoop drains accepted transport connections until ctx is done.
// Handing each Conn to the wire codec for CONNECT/PUBLISH/SUBSCRIBE
// framing is out of scope (spec.md §1); this just proves the accept
// loop itself is live.
func acceptLoop(ctx context.Context, l *listener.Listener, logger log.Logger) {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			level.Warn(logger).Log("msg", "accept failed", "err", err)
			continue
		}
		level.Debug(logger).Log("msg", "accepted connection", "proto", conn.Proto, "remote", conn.RemoteAddr())
	}
}

// staticMembers is the MemberResolver built from the configured
// placement-center address list (spec.md §6 "placement_center").
type staticMembers []string

func (s staticMembers) Members() []string { return s }

// undialedClientService is the dial func rpc.Client calls per member
// address. Binding it to a real meta-service connection requires the
// wire transport spec.md puts out of scope (§1); a deployment wires this
// to whatever client stub its chosen transport generates. It must be
// replaced before this process serves any real connection, since every
// ClientService call against the nil it returns today would panic.
func undialedClientService(addr string) rpc.ClientService {
	return nil
}

// loggingPusher is the default publish.Pusher until a connection
// registry owns real per-client delivery (flow.Outbound gating plus the
// wire codec). It logs what would have been delivered.
type loggingPusher struct {
	logger log.Logger
}

func (p *loggingPusher) Push(_ context.Context, task publish.PushTask) error {
	level.Debug(p.logger).Log("msg", "deliver", "client_id", task.ClientID, "topic", task.Topic, "qos", task.QoS)
	return nil
}
