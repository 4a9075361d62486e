// Package cache is the MQTT broker's local read cache, reconciled from
// the meta service's inner-RPC cache-update back-channel (spec.md §4.2
// "Cache-update back-channel": "brokers reconcile their local caches
// synchronously on receipt. Receivers are idempotent; a drop means the
// broker reads through on next access"). Unlike the meta service's own
// sync.Map-based cache (write-once-per-Raft-apply, read-heavy), the
// broker cache is written by every CacheUpdate push arriving over the
// inner-RPC connection and read on every publish/subscribe, so it uses
// a single RWMutex-guarded map per entity the way a connection-heavy
// server's hot lookup table typically would, rather than sync.Map.
package cache

import (
	"sync"

	"github.com/robustmq/robustmq/internal/meta/model"
)

// ReadThrough fetches an entity directly from the meta service on a
// local cache miss (spec.md: "a drop means the broker reads through on
// next access (cache miss goes to meta-service Get)").
type ReadThrough interface {
	GetTopic(clusterName, topicName string) (*model.Topic, bool, error)
	GetUser(clusterName, username string) (*model.User, bool, error)
	GetSession(clusterName, clientID string) (*model.Session, bool, error)
}

type Cache struct {
	readThrough ReadThrough

	mu         sync.RWMutex
	topics     map[string]*model.Topic
	users      map[string]*model.User
	sessions   map[string]*model.Session
	acls       map[string][]*model.Acl
	blacklist  map[string]*model.Blacklist
	appliedIdx map[string]uint64 // resourceType/cluster/resourceKey -> last applied RaftIndex
}

func New(rt ReadThrough) *Cache {
	return &Cache{
		readThrough: rt,
		topics:      make(map[string]*model.Topic),
		users:       make(map[string]*model.User),
		sessions:    make(map[string]*model.Session),
		acls:        make(map[string][]*model.Acl),
		blacklist:   make(map[string]*model.Blacklist),
		appliedIdx:  make(map[string]uint64),
	}
}

// admit reports whether a CacheUpdate tagged raftIndex for resourceKey
// should be applied, per the ordering guarantee in spec.md §5: "tagging
// each [push] with the Raft index and dropping any with a lower index
// than already applied". A raftIndex of 0 means the producer didn't tag
// the update (e.g. a test fixture); those always apply and never
// establish a floor, since 0 can't be distinguished from "untagged".
func (c *Cache) admit(resourceType, resourceKey string, raftIndex uint64) bool {
	if raftIndex == 0 {
		return true
	}
	key := resourceType + "/" + resourceKey
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.appliedIdx[key]; ok && raftIndex <= last {
		return false
	}
	c.appliedIdx[key] = raftIndex
	return true
}

func topicKey(cluster, name string) string { return cluster + "/" + name }
func userKey(cluster, name string) string  { return cluster + "/" + name }
func sessKey(cluster, id string) string    { return cluster + "/" + id }

func (c *Cache) Topic(cluster, name string) (*model.Topic, error) {
	c.mu.RLock()
	t, ok := c.topics[topicKey(cluster, name)]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}
	fetched, found, err := c.readThrough.GetTopic(cluster, name)
	if err != nil || !found {
		return nil, err
	}
	c.PutTopic(cluster, name, fetched)
	return fetched, nil
}

func (c *Cache) PutTopic(cluster, name string, t *model.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topicKey(cluster, name)] = t
}

func (c *Cache) DeleteTopic(cluster, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topicKey(cluster, name))
}

// LocalUser returns a user only if it is already warm in the local map,
// never reading through. Authentication drivers need this distinction:
// spec.md's "try plaintext; if user unknown locally, fetch from meta
// service once and retry" owns the single read-through fetch itself, so
// it must be able to ask "is this local" without Cache.User silently
// doing that fetch on its behalf.
func (c *Cache) LocalUser(cluster, username string) (*model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[userKey(cluster, username)]
	return u, ok
}

func (c *Cache) User(cluster, username string) (*model.User, error) {
	c.mu.RLock()
	u, ok := c.users[userKey(cluster, username)]
	c.mu.RUnlock()
	if ok {
		return u, nil
	}
	fetched, found, err := c.readThrough.GetUser(cluster, username)
	if err != nil || !found {
		return nil, err
	}
	c.PutUser(cluster, username, fetched)
	return fetched, nil
}

func (c *Cache) PutUser(cluster, username string, u *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[userKey(cluster, username)] = u
}

func (c *Cache) DeleteUser(cluster, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, userKey(cluster, username))
}

func (c *Cache) Session(cluster, clientID string) (*model.Session, error) {
	c.mu.RLock()
	s, ok := c.sessions[sessKey(cluster, clientID)]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}
	fetched, found, err := c.readThrough.GetSession(cluster, clientID)
	if err != nil || !found {
		return nil, err
	}
	c.PutSession(cluster, clientID, fetched)
	return fetched, nil
}

func (c *Cache) PutSession(cluster, clientID string, s *model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessKey(cluster, clientID)] = s
}

func (c *Cache) DeleteSession(cluster, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessKey(cluster, clientID))
}

func (c *Cache) Acls(cluster, resourceName string) []*model.Acl {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acls[cluster+"/"+resourceName]
}

func (c *Cache) PutAcls(cluster, resourceName string, rules []*model.Acl) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acls[cluster+"/"+resourceName] = rules
}

func (c *Cache) Blacklist(cluster string) []*model.Blacklist {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Blacklist, 0, len(c.blacklist))
	for k, v := range c.blacklist {
		if hasClusterPrefix(k, cluster) {
			out = append(out, v)
		}
	}
	return out
}

func (c *Cache) PutBlacklist(cluster, key string, b *model.Blacklist) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blacklist[cluster+"/"+key] = b
}

func (c *Cache) DeleteBlacklist(cluster, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blacklist, cluster+"/"+key)
}

func hasClusterPrefix(key, cluster string) bool {
	prefix := cluster + "/"
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}
