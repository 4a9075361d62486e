// Package security implements connection-level defenses the meta
// service's blacklist alone doesn't cover: flapping-connection
// detection that auto-blacklists a client id reconnecting too fast, too
// often. Grounded on
// original_source/src/mqtt-broker/src/handler/flapping_detect.rs,
// reauthored with the exact window/threshold arithmetic preserved.
package security

import (
	"sync"
	"time"
)

// FlappingDetectConfig mirrors MqttFlappingDetect from the original
// config: a window length, anchored at a client id's first tracked
// connection attempt, and a connection-count threshold within it, plus
// how long a tripped client id is banned for.
type FlappingDetectConfig struct {
	WindowTime           time.Duration
	MaxClientConnections uint64
	BanTime              time.Duration
}

type flappingCondition struct {
	beforeWindowConnections uint64
	firstRequestTime        time.Time
}

// FlappingDetector tracks per-client-id connection counters and the
// start of their current observation window, flagging a client for
// blacklisting once it reconnects max_client_connections times within
// window_time.
type FlappingDetector struct {
	cfg  FlappingDetectConfig
	now  func() time.Time
	mu   sync.Mutex
	seen map[string]*flappingCondition
	ctr  map[string]uint64
}

func NewFlappingDetector(cfg FlappingDetectConfig) *FlappingDetector {
	return &FlappingDetector{
		cfg:  cfg,
		now:  time.Now,
		seen: make(map[string]*flappingCondition),
		ctr:  make(map[string]uint64),
	}
}

// Check records a new connection attempt for clientID and reports
// whether it should be blacklisted for connection jitter. It mirrors
// check_flapping_detect: a condition is created on first sight, the
// connection counter is incremented, and the client trips only when
// both the window hasn't elapsed yet and the counter has grown by at
// least max_client_connections since the window started.
func (d *FlappingDetector) Check(clientID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cond, ok := d.seen[clientID]
	if !ok {
		cond = &flappingCondition{
			beforeWindowConnections: d.ctr[clientID],
			firstRequestTime:        now,
		}
	}

	d.ctr[clientID]++
	currentCounter := d.ctr[clientID]

	trip := isWithinWindow(now, cond.firstRequestTime, d.cfg.WindowTime) &&
		isExceedMaxConnections(currentCounter, cond.beforeWindowConnections, d.cfg.MaxClientConnections)

	d.seen[clientID] = cond
	return trip
}

func isWithinWindow(current, first time.Time, window time.Duration) bool {
	return current.Sub(first) < window
}

func isExceedMaxConnections(current, baseline, maxConnections uint64) bool {
	return current-baseline >= maxConnections
}

// BanUntil computes the blacklist expiry for a client tripped by Check.
func (d *FlappingDetector) BanUntil() time.Time {
	return d.now().Add(d.cfg.BanTime)
}

// Forget drops a client id's tracked window, used by a periodic sweep
// once its window has fully elapsed (the original's
// clean_flapping_detect loop, run every 10s there).
func (d *FlappingDetector) Forget(clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, clientID)
	delete(d.ctr, clientID)
}

// Sweep removes tracked windows that have fully elapsed, bounding
// memory growth for clients that connected once and never came back.
func (d *FlappingDetector) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for clientID, cond := range d.seen {
		if now.Sub(cond.firstRequestTime) >= d.cfg.WindowTime {
			delete(d.seen, clientID)
			delete(d.ctr, clientID)
		}
	}
}
