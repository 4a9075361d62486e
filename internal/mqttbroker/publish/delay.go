package publish

import (
	"container/heap"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// delayedPrefix is the RobustMQ delayed-publish topic convention (spec.md
// §4.1, §5 "MQTT wire": "$delayed/<seconds>/<topic>").
const delayedPrefix = "$delayed/"

// ParseDelayedTopic splits a `$delayed/<seconds>/<topic>` publish topic
// into its delay and real topic. ok is false if topic does not use the
// convention or the delay segment isn't a valid non-negative integer.
func ParseDelayedTopic(topic string) (delay time.Duration, real string, ok bool) {
	if !strings.HasPrefix(topic, delayedPrefix) {
		return 0, "", false
	}
	rest := topic[len(delayedPrefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return 0, "", false
	}
	seconds, err := strconv.ParseUint(rest[:idx], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return time.Duration(seconds) * time.Second, rest[idx+1:], true
}

// DelayedMessage is one entry in the delay queue: a publish whose
// delivery is deferred until ReadyAt (spec.md: "place into delay queue
// keyed by delivery-time with user properties (delay_message_flag=true,
// recv_ms, target_ms)").
type DelayedMessage struct {
	ClusterName string
	Namespace   string
	Topic       string
	Payload     []byte
	QoS         byte
	Retain      bool
	Properties  map[string]string
	RecvAt      time.Time
	ReadyAt     time.Time
}

// DelayQueue is the interface the session/dispatch layer uses to defer a
// publish; its internal storage/scheduling mechanics are out of scope
// (spec.md §1 Non-goals: "delayed-message queue internals beyond the
// interface the session layer uses").
type DelayQueue interface {
	Push(msg DelayedMessage)
	// Due pops and returns every message whose ReadyAt is <= now, in
	// ReadyAt ascending order.
	Due(now time.Time) []DelayedMessage
}

// memoryDelayQueue is a minimal in-process DelayQueue, a min-heap on
// ReadyAt. Grounded on the heap-based timer-wheel idiom common to the
// teacher's own flushqueue retry scheduling (friggdb/flushqueue), adapted
// from a retry-backoff ordering to a delivery-time ordering.
type memoryDelayQueue struct {
	mu sync.Mutex
	h  delayHeap
}

func NewMemoryDelayQueue() DelayQueue {
	return &memoryDelayQueue{}
}

func (q *memoryDelayQueue) Push(msg DelayedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, msg)
}

func (q *memoryDelayQueue) Due(now time.Time) []DelayedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []DelayedMessage
	for len(q.h) > 0 && !q.h[0].ReadyAt.After(now) {
		due = append(due, heap.Pop(&q.h).(DelayedMessage))
	}
	return due
}

// DelayDrain polls a DelayQueue and re-dispatches every due message
// through Dispatcher.Publish, the missing other half of "$delayed/"
// publish handling (spec.md §8 Scenario 3: a delayed publish must
// actually be delivered at its target time, not merely accepted).
// Without a goroutine driving this, queueDelayed's Result{Delayed:true}
// PUBACK would be a promise the broker never keeps.
type DelayDrain struct {
	Queue      DelayQueue
	Dispatcher *Dispatcher
	Logger     log.Logger
	Interval   time.Duration // how often to poll Due(); defaults to time.Second
	Now        func() time.Time
}

func (d *DelayDrain) Name() string { return "delay-drain" }

// Run polls the queue on Interval until ctx is done. Grounded on the
// controller package's ticker-driven Run(ctx) shape (e.g.
// internal/meta/controller/retain_expiry.go), the repo's established
// idiom for a background sweep loop.
func (d *DelayDrain) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = time.Second
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx, now())
		}
	}
}

func (d *DelayDrain) drain(ctx context.Context, now time.Time) {
	for _, msg := range d.Queue.Due(now) {
		props := make(map[string]string, len(msg.Properties))
		for k, v := range msg.Properties {
			props[k] = v
		}
		req := Request{
			ClusterName: msg.ClusterName,
			Topic:       msg.Topic,
			Payload:     msg.Payload,
			QoS:         msg.QoS,
			Retain:      msg.Retain,
			Properties:  props,
			Namespace:   msg.Namespace,
		}
		if _, err := d.Dispatcher.Publish(ctx, req); err != nil {
			level.Warn(d.Logger).Log("msg", "delayed publish redelivery failed", "topic", msg.Topic, "err", err)
		}
	}
}

type delayHeap []DelayedMessage

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].ReadyAt.Before(h[j].ReadyAt) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x interface{}) { *h = append(*h, x.(DelayedMessage)) }
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}
