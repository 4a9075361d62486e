package publish

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/mqttbroker/security"
)

// TopicService materialises topics and retained messages in the meta
// service (spec.md §4.1 Dispatch steps 3 and 5).
type TopicService interface {
	EnsureTopic(ctx context.Context, clusterName, topicName string) (*model.Topic, error)
	SetRetain(ctx context.Context, clusterName, topicName string, retain *model.RetainMessage) error
}

// Persister writes a publish's payload to its shard in the journal
// storage engine (spec.md §4.1 Dispatch step 6). Namespace/ShardName
// mapping from (cluster, topic) is the caller's concern (typically
// namespace=cluster, shard=topic_id); this interface only needs to be
// able to append once that mapping is known.
type Persister interface {
	Write(ctx context.Context, namespace, shardName string, records []journal.Record) ([]int64, error)
}

// Pusher delivers one resolved push task toward a subscriber's
// connection. Actual framing/encoding onto the wire is out of scope
// (the MQTT wire codec is assumed available as a collaborator, spec.md
// §1); Pusher just needs to accept the task or report it couldn't.
type Pusher interface {
	Push(ctx context.Context, task PushTask) error
}

// PushTask is one resolved delivery: a publish destined for one
// subscriber, having already applied no_local/retain_as_published/QoS
// downgrade (spec.md §4.1 Dispatch step 7).
type PushTask struct {
	ClientID               string
	Topic                  string
	Payload                []byte
	QoS                    byte
	Retain                 bool
	Properties             map[string]string
	SubscriptionIdentifier *uint32
}

// Request is an inbound PUBLISH as the dispatch pipeline sees it.
type Request struct {
	ClusterName     string
	PublisherClient string
	Username        string
	IP              string
	Topic           string // raw, possibly a topic alias lookup or $delayed/ prefixed
	TopicAlias      *uint16
	Aliases         *TopicAliases // the publishing connection's own alias table, never shared
	Payload         []byte
	QoS             byte
	Retain          bool
	Properties      map[string]string
	DelayInterval   time.Duration // from MQTT v5 publish property, 0 if unset
	Namespace       string        // journal namespace the resolved topic's shard lives in
}

// Result reports how a publish was handled.
type Result struct {
	// Topic is the fully resolved (alias + rewrite applied) topic name.
	Topic string
	// Delayed is true if the publish was queued for later delivery and
	// no persistence/fan-out happened yet (caller should PUBACK now).
	Delayed bool
	// Offset is the assigned journal offset, set only when persisted.
	Offset int64
	// Delivered is the set of subscribers a push task was attempted for.
	Delivered int
}

// Dispatcher ties the pieces named in spec.md §4.1 "Dispatch" together:
// alias/rewrite resolution, ACL, topic materialisation, delayed-publish
// queueing, retain upsert, persistence, and subscription fan-out.
type Dispatcher struct {
	Rewriter      *Rewriter
	Acls          func(clusterName, username, clientID string) []*model.Acl
	Topics        TopicService
	Persister     Persister
	Subscriptions *Subscriptions
	Delay         DelayQueue
	Pusher        Pusher
	Logger        log.Logger
}

// Publish runs the full dispatch pipeline for one PUBLISH packet.
func (d *Dispatcher) Publish(ctx context.Context, req Request) (Result, error) {
	topicName, err := d.resolveTopic(req)
	if err != nil {
		return Result{}, err
	}

	rules := d.Acls(req.ClusterName, req.Username, req.PublisherClient)
	if !security.Evaluate(rules, security.Request{
		Username: req.Username, ClientID: req.PublisherClient, IP: req.IP,
		Topic: topicName, Action: model.ActionPublish,
	}) {
		return Result{}, errs.New(errs.Authorization, "publish denied by acl")
	}

	if delay, real, ok := ParseDelayedTopic(topicName); ok {
		return d.queueDelayed(real, req, delay)
	}
	if req.DelayInterval > 0 {
		return d.queueDelayed(topicName, req, req.DelayInterval)
	}

	topicModel, err := d.Topics.EnsureTopic(ctx, req.ClusterName, topicName)
	if err != nil {
		return Result{}, err
	}

	if req.Retain {
		if err := d.applyRetain(ctx, req, topicName); err != nil {
			return Result{}, err
		}
	}

	offsets, err := d.Persister.Write(ctx, req.Namespace, topicModel.TopicID, []journal.Record{{
		Timestamp: time.Now(),
		Payload:   req.Payload,
		Headers:   req.Properties,
	}})
	if err != nil {
		return Result{}, errs.Wrap(errs.Internal, err)
	}
	var offset int64
	if len(offsets) > 0 {
		offset = offsets[0]
	}

	delivered := d.fanOut(ctx, topicName, req)
	return Result{Topic: topicName, Offset: offset, Delivered: delivered}, nil
}

func (d *Dispatcher) resolveTopic(req Request) (string, error) {
	topicName := req.Topic
	if topicName == "" {
		if req.TopicAlias == nil {
			return "", errs.New(errs.Protocol, "publish with no topic and no alias")
		}
		if req.Aliases == nil {
			return "", errs.New(errs.Protocol, "publish with alias but no alias table for this connection")
		}
		resolved, ok := req.Aliases.Resolve(*req.TopicAlias)
		if !ok {
			return "", errs.New(errs.Protocol, "unknown topic alias")
		}
		topicName = resolved
	} else if req.TopicAlias != nil && req.Aliases != nil {
		req.Aliases.Register(*req.TopicAlias, topicName)
	}
	return d.Rewriter.Rewrite(model.ActionPublish, topicName), nil
}

func (d *Dispatcher) queueDelayed(realTopic string, req Request, delay time.Duration) (Result, error) {
	now := time.Now()
	props := make(map[string]string, len(req.Properties)+1)
	for k, v := range req.Properties {
		props[k] = v
	}
	props["delay_message_flag"] = "true"
	props["recv_ms"] = formatMillis(now)
	props["target_ms"] = formatMillis(now.Add(delay))

	d.Delay.Push(DelayedMessage{
		ClusterName: req.ClusterName, Namespace: req.Namespace,
		Topic: realTopic, Payload: req.Payload, QoS: req.QoS, Retain: req.Retain,
		Properties: props, RecvAt: now, ReadyAt: now.Add(delay),
	})
	return Result{Topic: realTopic, Delayed: true}, nil
}

func (d *Dispatcher) applyRetain(ctx context.Context, req Request, topicName string) error {
	if len(req.Payload) == 0 {
		return d.Topics.SetRetain(ctx, req.ClusterName, topicName, nil)
	}
	return d.Topics.SetRetain(ctx, req.ClusterName, topicName, &model.RetainMessage{
		Payload:    req.Payload,
		Properties: req.Properties,
		Timestamp:  time.Now(),
	})
}

func (d *Dispatcher) fanOut(ctx context.Context, topicName string, req Request) int {
	targets := d.Subscriptions.Match(topicName)
	delivered := 0
	for _, target := range targets {
		if target.Sub.NoLocal && target.ClientID == req.PublisherClient {
			continue
		}
		retain := req.Retain && target.Sub.RetainAsPublished
		qos := req.QoS
		if target.Sub.QoS < qos {
			qos = target.Sub.QoS
		}
		task := PushTask{
			ClientID: target.ClientID, Topic: topicName, Payload: req.Payload,
			QoS: qos, Retain: retain, Properties: req.Properties,
			SubscriptionIdentifier: target.Sub.SubscriptionIdentifier,
		}
		if err := d.Pusher.Push(ctx, task); err != nil {
			level.Warn(d.Logger).Log("msg", "push task dropped", "client_id", target.ClientID, "topic", topicName, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
