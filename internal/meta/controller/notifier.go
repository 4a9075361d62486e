package controller

import "github.com/robustmq/robustmq/internal/meta/model"

// Notifier is the narrow slice of InnerService (spec.md §6) these
// controllers need to push work out to brokers. The binary supplies the
// implementation: cmd/meta-service wires in loggingNotifier, which logs
// each call and sends nothing to brokers. gRPC transport itself is out
// of scope (§1), so this package only depends on the interface.
type Notifier interface {
	SendLastWill(brokerID uint64, clientID string, will model.LastWill) error
	DeleteSession(clusterName, clientID string) error
}
