package publish

import (
	"sort"
	"sync"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/mqttbroker/topic"
)

// ShareLeader reports whether this broker is the elected leader of a
// shared-subscription group (spec.md §4.1/§4.2: "leadership of the group
// is elected via the meta service"). Only the leader broker dispatches
// to the group's members; a non-leader broker forwards the publish to
// the leader over inner-RPC, which is outside this package (gRPC/tonic
// plumbing is out of scope, spec.md §1).
type ShareLeader interface {
	IsLocalLeader(clusterName, group string) bool
}

// registration is one (client_id, sub_path) entry plus its parsed filter.
type registration struct {
	clientID string
	sub      model.Subscription
	filter   topic.Filter
}

// Subscriptions is the broker-local subscription registry: exclusive
// ownership, shared-group membership with round-robin local dispatch,
// and plain wildcard filters (spec.md §4.1 "Subscription taxonomy").
type Subscriptions struct {
	clusterName string
	leader      ShareLeader

	mu        sync.RWMutex
	byClient  map[string]map[string]registration // client_id -> sub_path -> registration
	exclusive map[string]string                  // real topic -> owning client_id
	sharedRR  map[string]int                     // group/real_topic -> next round-robin index
}

func NewSubscriptions(clusterName string, leader ShareLeader) *Subscriptions {
	return &Subscriptions{
		clusterName: clusterName,
		leader:      leader,
		byClient:    make(map[string]map[string]registration),
		exclusive:   make(map[string]string),
		sharedRR:    make(map[string]int),
	}
}

// Add registers a subscription. It returns errs.AlreadyExists if the
// filter is `$exclusive` and already owned by a different client (spec.md
// "A second client subscribing receives SUBACK failure code for that
// filter"); fresh reports whether this exact (client_id, sub_path) pair
// is new (used for retain_handling=1 "SendRetainedIfNotExists").
func (s *Subscriptions) Add(clientID string, sub model.Subscription) (fresh bool, err error) {
	f := topic.Parse(sub.SubPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Kind == topic.KindExclusive {
		if owner, ok := s.exclusive[f.RealTopic]; ok && owner != clientID {
			return false, errs.New(errs.AlreadyExists, "topic already owned by an exclusive subscriber")
		}
		s.exclusive[f.RealTopic] = clientID
	}

	subs, ok := s.byClient[clientID]
	if !ok {
		subs = make(map[string]registration)
		s.byClient[clientID] = subs
	}
	_, existed := subs[sub.SubPath]
	subs[sub.SubPath] = registration{clientID: clientID, sub: sub, filter: f}
	return !existed, nil
}

// Remove unregisters a (client_id, sub_path) subscription.
func (s *Subscriptions) Remove(clientID, subPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.byClient[clientID]
	if !ok {
		return
	}
	reg, ok := subs[subPath]
	if !ok {
		return
	}
	delete(subs, subPath)
	if len(subs) == 0 {
		delete(s.byClient, clientID)
	}
	if reg.filter.Kind == topic.KindExclusive && s.exclusive[reg.filter.RealTopic] == clientID {
		delete(s.exclusive, reg.filter.RealTopic)
	}
}

// Target is one resolved delivery target for a published topic.
type Target struct {
	ClientID string
	Sub      model.Subscription
}

// Match resolves every subscriber that should receive a publish to
// topicName, applying exclusive ownership (exactly one client) and
// shared-group round-robin (one client per group, only on the leader
// broker); plain wildcard filters match every matching subscriber.
func (s *Subscriptions) Match(topicName string) []Target {
	// Shared-group dispatch advances a round-robin index, so this needs
	// the write lock even though most of the work below only reads.
	s.mu.Lock()
	defer s.mu.Unlock()

	var plain []registration
	sharedGroups := make(map[string][]registration)

	for _, subs := range s.byClient {
		for _, reg := range subs {
			if !reg.filter.Matches(topicName) {
				continue
			}
			switch reg.filter.Kind {
			case topic.KindShared:
				key := reg.filter.Group + "/" + reg.filter.RealTopic
				sharedGroups[key] = append(sharedGroups[key], reg)
			default:
				plain = append(plain, reg)
			}
		}
	}

	var out []Target
	for _, reg := range plain {
		out = append(out, Target{ClientID: reg.clientID, Sub: reg.sub})
	}
	for key, members := range sharedGroups {
		group := members[0].filter.Group
		if s.leader != nil && !s.leader.IsLocalLeader(s.clusterName, group) {
			continue
		}
		// members comes out of s.byClient (a map), so its order is
		// randomized per call; sort it by client_id first so the index
		// sharedRR[key] persists across calls picks the same logical
		// slot each time (spec.md §8 Scenario 2's exact-fairness
		// guarantee depends on this).
		sort.Slice(members, func(i, j int) bool { return members[i].clientID < members[j].clientID })
		idx := s.sharedRR[key] % len(members)
		s.sharedRR[key] = (idx + 1) % len(members)
		chosen := members[idx]
		out = append(out, Target{ClientID: chosen.clientID, Sub: chosen.sub})
	}
	return out
}
