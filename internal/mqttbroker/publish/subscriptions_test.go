package publish

import (
	"testing"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/model"
)

func TestMatchPlainWildcard(t *testing.T) {
	s := NewSubscriptions("default", nil)
	_, err := s.Add("c1", model.Subscription{ClientID: "c1", SubPath: "sensors/+/temp"})
	if err != nil {
		t.Fatal(err)
	}

	targets := s.Match("sensors/room1/temp")
	if len(targets) != 1 || targets[0].ClientID != "c1" {
		t.Fatalf("Match = %+v, want one target for c1", targets)
	}

	if targets := s.Match("sensors/room1/humidity"); len(targets) != 0 {
		t.Fatalf("Match on non-matching topic = %+v, want none", targets)
	}
}

func TestExclusiveSubscriptionRejectsSecondOwner(t *testing.T) {
	s := NewSubscriptions("default", nil)
	if _, err := s.Add("c1", model.Subscription{ClientID: "c1", SubPath: "$exclusive/metrics"}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Add("c2", model.Subscription{ClientID: "c2", SubPath: "$exclusive/metrics"})
	if !errs.Is(err, errs.AlreadyExists) {
		t.Fatalf("second Add error = %v, want AlreadyExists", err)
	}

	targets := s.Match("metrics")
	if len(targets) != 1 || targets[0].ClientID != "c1" {
		t.Fatalf("Match = %+v, want only c1", targets)
	}
}

func TestExclusiveReleasedAfterRemove(t *testing.T) {
	s := NewSubscriptions("default", nil)
	if _, err := s.Add("c1", model.Subscription{ClientID: "c1", SubPath: "$exclusive/metrics"}); err != nil {
		t.Fatal(err)
	}
	s.Remove("c1", "$exclusive/metrics")

	if _, err := s.Add("c2", model.Subscription{ClientID: "c2", SubPath: "$exclusive/metrics"}); err != nil {
		t.Fatalf("Add after Remove = %v, want nil", err)
	}
}

type alwaysLeader struct{}

func (alwaysLeader) IsLocalLeader(string, string) bool { return true }

type neverLeader struct{}

func (neverLeader) IsLocalLeader(string, string) bool { return false }

func TestSharedSubscriptionRoundRobinsAcrossGroupMembers(t *testing.T) {
	s := NewSubscriptions("default", alwaysLeader{})
	s.Add("c1", model.Subscription{ClientID: "c1", SubPath: "$share/g/work"})
	s.Add("c2", model.Subscription{ClientID: "c2", SubPath: "$share/g/work"})

	first := s.Match("work")
	second := s.Match("work")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected exactly one shared target per publish, got %+v / %+v", first, second)
	}
	if first[0].ClientID == second[0].ClientID {
		t.Fatalf("round-robin picked %q twice in a row", first[0].ClientID)
	}
}

func TestSharedSubscriptionSkippedWhenNotLocalLeader(t *testing.T) {
	s := NewSubscriptions("default", neverLeader{})
	s.Add("c1", model.Subscription{ClientID: "c1", SubPath: "$share/g/work"})

	if targets := s.Match("work"); len(targets) != 0 {
		t.Fatalf("Match on non-leader broker = %+v, want none", targets)
	}
}
