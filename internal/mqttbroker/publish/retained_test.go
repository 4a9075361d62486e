package publish

import (
	"testing"

	"github.com/robustmq/robustmq/internal/meta/model"
)

func TestShouldForwardRetained(t *testing.T) {
	retain := &model.RetainMessage{Payload: []byte("x")}

	if !ShouldForwardRetained(retain, RetainHandlingSend, false) {
		t.Fatal("RetainHandlingSend should always forward")
	}
	if !ShouldForwardRetained(retain, RetainHandlingSendIfNotExists, true) {
		t.Fatal("RetainHandlingSendIfNotExists should forward on a fresh subscription")
	}
	if ShouldForwardRetained(retain, RetainHandlingSendIfNotExists, false) {
		t.Fatal("RetainHandlingSendIfNotExists should not forward on a re-subscribe")
	}
	if ShouldForwardRetained(retain, RetainHandlingDontSend, true) {
		t.Fatal("RetainHandlingDontSend should never forward")
	}
	if ShouldForwardRetained(nil, RetainHandlingSend, true) {
		t.Fatal("no retained message should never forward")
	}
}
