// Package flow implements per-connection MQTT v5 flow control (spec.md
// §4.1 "Flow control"): an inbound in-flight counter capped at the
// broker's configured receive maximum, and an outbound acknowledgement
// table capping concurrent deliveries at the client's declared receive
// maximum. Grounded on the teacher's atomic-counter idiom
// (`go.uber.org/atomic` used throughout friggdb for hot counters) and
// spec.md §4.1's exact counter semantics.
package flow

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/robustmq/robustmq/internal/errs"
)

// Inbound tracks QoS 1/2 publishes received but not yet acknowledged
// (PUBACK/PUBCOMP sent). Incremented on receipt, decremented on ack.
type Inbound struct {
	limit   int32
	current atomic.Int32
}

func NewInbound(limit int32) *Inbound { return &Inbound{limit: limit} }

// Admit increments the in-flight counter, returning
// errs.Backpressure if doing so would exceed the configured limit
// (spec.md: "receiving when counter = limit -> disconnect reason
// 0x93").
func (i *Inbound) Admit() error {
	if i.current.Load() >= i.limit {
		return errs.New(errs.Backpressure, "inbound receive maximum exceeded")
	}
	i.current.Inc()
	return nil
}

func (i *Inbound) Ack() { i.current.Dec() }

func (i *Inbound) InFlight() int32 { return i.current.Load() }

// Outbound gates dispatch to a client's declared Receive Maximum using
// a per-pkid acknowledgement table; dispatch is paused while the table
// is full (spec.md: "dispatch is paused when outstanding outbound
// equals the client's declared Receive Maximum").
type Outbound struct {
	limit int
	mu    sync.Mutex
	acks  map[uint16]chan struct{}
}

func NewOutbound(limit int) *Outbound {
	return &Outbound{limit: limit, acks: make(map[uint16]chan struct{})}
}

// Reserve registers pkid as an outstanding delivery, returning a channel
// the caller closes (via Complete) once the ack arrives. Returns false
// if the outbound table is already full.
func (o *Outbound) Reserve(pkid uint16) (chan struct{}, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.acks) >= o.limit {
		return nil, false
	}
	ch := make(chan struct{})
	o.acks[pkid] = ch
	return ch, true
}

// Complete acknowledges pkid, closing and removing its wait channel.
func (o *Outbound) Complete(pkid uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ch, ok := o.acks[pkid]; ok {
		close(ch)
		delete(o.acks, pkid)
	}
}

func (o *Outbound) Outstanding() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.acks)
}
