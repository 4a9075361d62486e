package publish

import "github.com/robustmq/robustmq/internal/meta/model"

// RetainHandling mirrors the SUBSCRIBE option byte values spec.md §4.1
// "Retained forwarding" names.
const (
	RetainHandlingSend            byte = 0
	RetainHandlingSendIfNotExists byte = 1
	RetainHandlingDontSend        byte = 2
)

// ShouldForwardRetained decides whether a retained message is delivered
// to a just-created (or re-evaluated) subscription, honouring
// retain_handling (spec.md §4.1 "Retained forwarding"). fresh is true
// when this (client_id, sub_path) pair is new, as reported by
// Subscriptions.Add.
func ShouldForwardRetained(retain *model.RetainMessage, retainHandling byte, fresh bool) bool {
	if retain == nil {
		return false
	}
	switch retainHandling {
	case RetainHandlingSend:
		return true
	case RetainHandlingSendIfNotExists:
		return fresh
	case RetainHandlingDontSend:
		return false
	default:
		return false
	}
}
