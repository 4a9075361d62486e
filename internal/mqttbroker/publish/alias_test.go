package publish

import "testing"

func TestTopicAliasesRegisterThenResolve(t *testing.T) {
	a := NewTopicAliases()
	a.Register(1, "sensors/temp")

	topic, ok := a.Resolve(1)
	if !ok || topic != "sensors/temp" {
		t.Fatalf("Resolve(1) = %q, %v, want sensors/temp, true", topic, ok)
	}

	a.Register(1, "sensors/humidity")
	topic, ok = a.Resolve(1)
	if !ok || topic != "sensors/humidity" {
		t.Fatalf("Resolve(1) after update = %q, %v, want sensors/humidity, true", topic, ok)
	}
}

func TestTopicAliasesResolveUnknownAlias(t *testing.T) {
	a := NewTopicAliases()
	if _, ok := a.Resolve(5); ok {
		t.Fatal("Resolve(5) on empty table = true, want false")
	}
}
