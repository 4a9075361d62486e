package publish

import (
	"testing"
	"time"
)

func TestParseDelayedTopic(t *testing.T) {
	delay, real, ok := ParseDelayedTopic("$delayed/3/foo/bar")
	if !ok || delay != 3*time.Second || real != "foo/bar" {
		t.Fatalf("ParseDelayedTopic = %v, %q, %v, want 3s, foo/bar, true", delay, real, ok)
	}

	if _, _, ok := ParseDelayedTopic("foo/bar"); ok {
		t.Fatal("ParseDelayedTopic on a plain topic = true, want false")
	}

	if _, _, ok := ParseDelayedTopic("$delayed/notanumber/foo"); ok {
		t.Fatal("ParseDelayedTopic with non-numeric delay = true, want false")
	}
}

func TestMemoryDelayQueueReturnsOnlyDueMessagesInOrder(t *testing.T) {
	q := NewMemoryDelayQueue()
	base := time.Unix(1000, 0)
	q.Push(DelayedMessage{Topic: "late", ReadyAt: base.Add(10 * time.Second)})
	q.Push(DelayedMessage{Topic: "early", ReadyAt: base.Add(1 * time.Second)})
	q.Push(DelayedMessage{Topic: "mid", ReadyAt: base.Add(5 * time.Second)})

	due := q.Due(base.Add(6 * time.Second))
	if len(due) != 2 {
		t.Fatalf("Due returned %d messages, want 2", len(due))
	}
	if due[0].Topic != "early" || due[1].Topic != "mid" {
		t.Fatalf("Due order = %q, %q, want early, mid", due[0].Topic, due[1].Topic)
	}

	remaining := q.Due(base.Add(100 * time.Second))
	if len(remaining) != 1 || remaining[0].Topic != "late" {
		t.Fatalf("remaining Due = %+v, want [late]", remaining)
	}
}
