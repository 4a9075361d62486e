// Package config loads the RobustMQ TOML configuration file (§6 of the
// spec) and exposes it as a process-wide, write-once-then-RCU-replace
// snapshot (design note §9): readers call Load() to get a consistent
// *Config for the duration of one packet or RPC; a reload swaps the
// pointer atomically and never mutates a live Config in place.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root TOML document. Field names map to the keys listed in
// spec.md §6 "Environment & configuration".
type Config struct {
	ClusterName string `toml:"cluster_name"`
	BrokerID    uint64 `toml:"broker_id"`

	Network NetworkConfig `toml:"network"`
	MQTT    MQTTConfig    `toml:"mqtt"`
	Journal JournalConfig `toml:"journal"`
	Log     LogConfig     `toml:"log"`

	PlacementCenter []string `toml:"placement_center"`

	HeartbeatTimeoutMS  uint64 `toml:"heartbeat_timeout_ms"`
	HeartbeatCheckTimeMS uint64 `toml:"heartbeat_check_time_ms"`

	MQTTFlappingDetect FlappingDetectConfig `toml:"mqtt_flapping_detect"`
}

type NetworkConfig struct {
	AcceptThreadNum   int `toml:"accept_thread_num"`
	HandlerThreadNum  int `toml:"handler_thread_num"`
	ResponseThreadNum int `toml:"response_thread_num"`
	RequestQueueSize  int `toml:"request_queue_size"`
	ResponseQueueSize int `toml:"response_queue_size"`
}

type MQTTConfig struct {
	MQTT4Port  uint16 `toml:"mqtt4"`
	MQTTS4Port uint16 `toml:"mqtts4"`
	MQTT5Port  uint16 `toml:"mqtt5"`
	MQTTS5Port uint16 `toml:"mqtts5"`
	WSPort     uint16 `toml:"ws"`
	WSSPort    uint16 `toml:"wss"`
	QUICPort   uint16 `toml:"quic"`
}

type JournalConfig struct {
	StoragePath         string `toml:"storage_path"`
	SegmentMaxBytes     int64  `toml:"segment_max_bytes"`
	RocksDBMaxOpenFiles int    `toml:"rocksdb_max_open_files"`
	Backend             string `toml:"backend"`
	// LocalCacheMaxBytes bounds how much local disk a node spends caching
	// sealed segments it pulled back from Backend on a read miss; 0
	// disables eviction entirely (keep everything fetched, forever).
	LocalCacheMaxBytes int64 `toml:"local_cache_max_bytes"`
}

type LogConfig struct {
	Path     string `toml:"path"`
	Level    string `toml:"level"`
	Rotation string `toml:"rotation"`
}

type FlappingDetectConfig struct {
	Enable               bool `toml:"enable"`
	WindowTime           int  `toml:"window_time"`
	MaxClientConnections uint64 `toml:"max_client_connections"`
	BanTime              int  `toml:"ban_time"`
}

// Default returns a Config populated with the teacher-style sane defaults
// used when a key is absent from the TOML file.
func Default() *Config {
	return &Config{
		ClusterName: "robustmq-default",
		Network: NetworkConfig{
			AcceptThreadNum:   1,
			HandlerThreadNum:  8,
			ResponseThreadNum: 8,
			RequestQueueSize:  1000,
			ResponseQueueSize: 1000,
		},
		Journal: JournalConfig{
			StoragePath:        "./data/journal",
			SegmentMaxBytes:    1024 * 1024 * 1024,
			Backend:            "local",
			LocalCacheMaxBytes: 10 * 1024 * 1024 * 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
		HeartbeatTimeoutMS:   30_000,
		HeartbeatCheckTimeMS: 5_000,
		MQTTFlappingDetect: FlappingDetectConfig{
			Enable:               true,
			WindowTime:           1,
			MaxClientConnections: 20,
			BanTime:              5,
		},
	}
}

// ParseFile reads and decodes a TOML config file, overlaying it onto Default().
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Snapshot is the RCU-replace holder for the process-wide config. Zero
// value is not usable; construct with NewSnapshot.
type Snapshot struct {
	ptr atomic.Pointer[Config]
}

func NewSnapshot(initial *Config) *Snapshot {
	s := &Snapshot{}
	s.ptr.Store(initial)
	return s
}

// Load returns the current Config. Callers should take one reference per
// packet/RPC and use it for that call's duration rather than calling Load
// repeatedly, so a concurrent Replace can't be observed mid-packet.
func (s *Snapshot) Load() *Config {
	return s.ptr.Load()
}

// Replace atomically swaps in a new Config, e.g. on an admin reload.
func (s *Snapshot) Replace(next *Config) {
	s.ptr.Store(next)
}

// Window converts the configured window_time (minutes) to a
// time.Duration, matching the teacher-adjacent TimeUnit::Minutes conversion
// recovered from original_source/.
func (c FlappingDetectConfig) Window() time.Duration {
	return time.Duration(c.WindowTime) * time.Minute
}

func (c FlappingDetectConfig) Ban() time.Duration {
	return time.Duration(c.BanTime) * time.Minute
}
