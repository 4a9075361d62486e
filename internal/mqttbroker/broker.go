// Package mqttbroker composes the broker-local packages (cache, security,
// session, publish) into the object graph spec.md §4.1 describes as one
// running broker process, behind the narrow meta-service surface
// internal/meta/rpc exposes (spec.md §6).
package mqttbroker

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"

	"github.com/robustmq/robustmq/internal/meta/model"
	"github.com/robustmq/robustmq/internal/meta/rpc"
	"github.com/robustmq/robustmq/internal/mqttbroker/cache"
	"github.com/robustmq/robustmq/internal/mqttbroker/publish"
	"github.com/robustmq/robustmq/internal/mqttbroker/security"
	"github.com/robustmq/robustmq/internal/mqttbroker/session"
)

// metaReadThrough adapts rpc.Client's ClientService surface to
// cache.ReadThrough. ClientService exposes only List* RPCs for these
// entities (spec.md §6 has no singular Get{Topic,User,Session}), so a
// read-through miss is served by listing and filtering; a future Get*
// RPC would replace this with a direct lookup.
type metaReadThrough struct {
	client *rpc.Client
}

func (r *metaReadThrough) GetTopic(clusterName, topicName string) (*model.Topic, bool, error) {
	var found *model.Topic
	err := r.client.Call(context.Background(), func(cs rpc.ClientService) error {
		topics, err := cs.ListTopic(context.Background(), clusterName)
		if err != nil {
			return err
		}
		for i := range topics {
			if topics[i].TopicName == topicName {
				found = &topics[i]
				return nil
			}
		}
		return nil
	})
	return found, found != nil, err
}

func (r *metaReadThrough) GetUser(clusterName, username string) (*model.User, bool, error) {
	var found *model.User
	err := r.client.Call(context.Background(), func(cs rpc.ClientService) error {
		users, err := cs.ListUser(context.Background(), clusterName)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].Username == username {
				found = &users[i]
				return nil
			}
		}
		return nil
	})
	return found, found != nil, err
}

func (r *metaReadThrough) GetSession(clusterName, clientID string) (*model.Session, bool, error) {
	var found *model.Session
	err := r.client.Call(context.Background(), func(cs rpc.ClientService) error {
		sessions, err := cs.ListSession(context.Background(), clusterName)
		if err != nil {
			return err
		}
		for i := range sessions {
			if sessions[i].ClientID == clientID {
				found = &sessions[i]
				return nil
			}
		}
		return nil
	})
	return found, found != nil, err
}

// metaUserLookup adapts the broker cache + meta client to
// security.UserLookup, grounded on spec.md §4.1's "try plaintext; if user
// unknown locally, fetch from meta service once and retry".
type metaUserLookup struct {
	cache *cache.Cache
	rt    *metaReadThrough
}

func (u *metaUserLookup) LocalUser(clusterName, username string) (*model.User, bool) {
	return u.cache.LocalUser(clusterName, username)
}

func (u *metaUserLookup) FetchUser(_ context.Context, clusterName, username string) (*model.User, bool, error) {
	return u.rt.GetUser(clusterName, username)
}

func (u *metaUserLookup) CacheUser(clusterName string, user *model.User) {
	u.cache.PutUser(clusterName, user.Username, user)
}

// metaTopics adapts the broker cache + meta client to
// publish.TopicService.
type metaTopics struct {
	clusterName string
	cache       *cache.Cache
	client      *rpc.Client
}

func (t *metaTopics) EnsureTopic(ctx context.Context, clusterName, topicName string) (*model.Topic, error) {
	if existing, err := t.cache.Topic(clusterName, topicName); err == nil && existing != nil {
		return existing, nil
	}
	topic := &model.Topic{ClusterName: clusterName, TopicName: topicName, TopicID: uuid.NewString()}
	if err := t.client.Call(ctx, func(cs rpc.ClientService) error {
		return cs.CreateTopic(ctx, *topic)
	}); err != nil {
		return nil, err
	}
	t.cache.PutTopic(clusterName, topicName, topic)
	return topic, nil
}

func (t *metaTopics) SetRetain(ctx context.Context, clusterName, topicName string, retain *model.RetainMessage) error {
	return t.client.Call(ctx, func(cs rpc.ClientService) error {
		return cs.SetTopicRetainMessage(ctx, clusterName, topicName, retain)
	})
}

// metaShareLeader adapts the meta client to publish.ShareLeader (spec.md
// §6 "GetShareSubLeader").
type metaShareLeader struct {
	brokerID uint64
	client   *rpc.Client
}

func (s *metaShareLeader) IsLocalLeader(clusterName, group string) bool {
	var leader uint64
	err := s.client.Call(context.Background(), func(cs rpc.ClientService) error {
		l, err := cs.GetShareSubLeader(context.Background(), clusterName, group)
		if err != nil {
			return err
		}
		leader = l
		return nil
	})
	return err == nil && leader == s.brokerID
}

// Broker bundles every broker-local component a connection handler needs.
type Broker struct {
	ClusterName string
	Cache       *cache.Cache
	Auth        *security.Chain
	Sessions    *session.Manager
	Subs        *publish.Subscriptions
	Dispatcher  *publish.Dispatcher
	DelayDrain  *publish.DelayDrain
}

// New wires the broker-local packages behind the meta-service client the
// way spec.md §4.1/§4.2 describe a running broker process doing.
func New(clusterName string, brokerID uint64, client *rpc.Client, persister publish.Persister, pusher publish.Pusher, logger log.Logger) *Broker {
	rt := &metaReadThrough{client: client}
	c := cache.New(rt)
	users := &metaUserLookup{cache: c, rt: rt}

	auth := &security.Chain{
		ClusterName: clusterName,
		Blacklist: func(cn string) []*model.Blacklist {
			return c.Blacklist(cn)
		},
		Drivers: []security.Driver{&security.PlaintextDriver{ClusterName: clusterName, Users: users}},
		Now:     func() int64 { return time.Now().Unix() },
	}

	sessionStore := &metaSessionStore{client: client}
	sessions := session.NewManager(clusterName, brokerID, sessionStore, noopKicker{})

	shareLeader := &metaShareLeader{brokerID: brokerID, client: client}
	subs := publish.NewSubscriptions(clusterName, shareLeader)

	delayQueue := publish.NewMemoryDelayQueue()
	dispatcher := &publish.Dispatcher{
		Rewriter: publish.NewRewriter(),
		Acls: func(cn, username, clientID string) []*model.Acl {
			rules := append([]*model.Acl{}, c.Acls(cn, username)...)
			if clientID != "" && clientID != username {
				rules = append(rules, c.Acls(cn, clientID)...)
			}
			return rules
		},
		Topics:        &metaTopics{clusterName: clusterName, cache: c, client: client},
		Persister:     persister,
		Subscriptions: subs,
		Delay:         delayQueue,
		Pusher:        pusher,
		Logger:        logger,
	}

	return &Broker{
		ClusterName: clusterName,
		Cache:       c,
		Auth:        auth,
		Sessions:    sessions,
		Subs:        subs,
		Dispatcher:  dispatcher,
		DelayDrain: &publish.DelayDrain{
			Queue:      delayQueue,
			Dispatcher: dispatcher,
			Logger:     logger,
		},
	}
}

// metaSessionStore adapts the meta client to session.SessionStore.
type metaSessionStore struct {
	client *rpc.Client
}

func (s *metaSessionStore) Get(ctx context.Context, clusterName, clientID string) (*model.Session, bool, error) {
	rt := &metaReadThrough{client: s.client}
	return rt.GetSession(clusterName, clientID)
}

func (s *metaSessionStore) Create(ctx context.Context, sess model.Session) error {
	return s.client.Call(ctx, func(cs rpc.ClientService) error {
		return cs.CreateSession(ctx, sess)
	})
}

func (s *metaSessionStore) Update(ctx context.Context, sess model.Session) error {
	return s.client.Call(ctx, func(cs rpc.ClientService) error {
		return cs.UpdateSession(ctx, sess)
	})
}

func (s *metaSessionStore) Delete(ctx context.Context, clusterName, clientID string) error {
	return s.client.Call(ctx, func(cs rpc.ClientService) error {
		return cs.DeleteSession(ctx, clusterName, clientID)
	})
}

// noopKicker is the default session.Kicker until a connection registry
// owns real socket teardown (spec.md §4.1 "session taken over"); wired in
// by cmd/mqtt-broker once the listener loop tracks live connections.
type noopKicker struct{}

func (noopKicker) Kick(uint64, string) {}
