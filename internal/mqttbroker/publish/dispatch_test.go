package publish

import (
	"context"
	"testing"

	"github.com/go-kit/log"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/meta/model"
)

type fakeTopics struct {
	topics map[string]*model.Topic
	retain map[string]*model.RetainMessage
}

func newFakeTopics() *fakeTopics {
	return &fakeTopics{topics: map[string]*model.Topic{}, retain: map[string]*model.RetainMessage{}}
}

func (f *fakeTopics) EnsureTopic(_ context.Context, cluster, name string) (*model.Topic, error) {
	key := cluster + "/" + name
	if t, ok := f.topics[key]; ok {
		return t, nil
	}
	t := &model.Topic{ClusterName: cluster, TopicName: name, TopicID: name}
	f.topics[key] = t
	return t, nil
}

func (f *fakeTopics) SetRetain(_ context.Context, cluster, name string, retain *model.RetainMessage) error {
	key := cluster + "/" + name
	if retain == nil {
		delete(f.retain, key)
		return nil
	}
	f.retain[key] = retain
	return nil
}

type fakePersister struct {
	writes []journal.Record
}

func (f *fakePersister) Write(_ context.Context, _, _ string, records []journal.Record) ([]int64, error) {
	offsets := make([]int64, len(records))
	for i, r := range records {
		f.writes = append(f.writes, r)
		offsets[i] = int64(len(f.writes) - 1)
	}
	return offsets, nil
}

type fakePusher struct {
	pushed []PushTask
}

func (f *fakePusher) Push(_ context.Context, task PushTask) error {
	f.pushed = append(f.pushed, task)
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeTopics, *fakePersister, *fakePusher) {
	topics := newFakeTopics()
	persister := &fakePersister{}
	pusher := &fakePusher{}
	subs := NewSubscriptions("default", nil)
	d := &Dispatcher{
		Rewriter:      NewRewriter(),
		Acls:          func(string, string, string) []*model.Acl { return nil },
		Topics:        topics,
		Persister:     persister,
		Subscriptions: subs,
		Delay:         NewMemoryDelayQueue(),
		Pusher:        pusher,
		Logger:        log.NewNopLogger(),
	}
	return d, topics, persister, pusher
}

func TestPublishPersistsAndDeliversToMatchingSubscriber(t *testing.T) {
	d, _, persister, pusher := newTestDispatcher()
	if _, err := d.Subscriptions.Add("sub1", model.Subscription{ClientID: "sub1", SubPath: "a/b", QoS: 1}); err != nil {
		t.Fatal(err)
	}

	res, err := d.Publish(context.Background(), Request{
		ClusterName: "default", PublisherClient: "pub1", Topic: "a/b",
		Payload: []byte("hello"), QoS: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Topic != "a/b" || res.Delivered != 1 {
		t.Fatalf("Publish result = %+v, want topic a/b delivered 1", res)
	}
	if len(persister.writes) != 1 || string(persister.writes[0].Payload) != "hello" {
		t.Fatalf("persisted writes = %+v", persister.writes)
	}
	if len(pusher.pushed) != 1 || pusher.pushed[0].ClientID != "sub1" {
		t.Fatalf("pushed = %+v, want one task for sub1", pusher.pushed)
	}
}

func TestPublishDeniedByAclReturnsAuthorizationError(t *testing.T) {
	d, _, persister, _ := newTestDispatcher()
	d.Acls = func(string, string, string) []*model.Acl {
		return []*model.Acl{{ResourceType: model.ResourceUser, ResourceName: "alice", Topic: "*", Action: model.ActionAll, Permission: model.PermissionDeny}}
	}

	_, err := d.Publish(context.Background(), Request{
		ClusterName: "default", PublisherClient: "pub1", Username: "alice", Topic: "a/b", Payload: []byte("x"),
	})
	if !errs.Is(err, errs.Authorization) {
		t.Fatalf("Publish err = %v, want Authorization", err)
	}
	if len(persister.writes) != 0 {
		t.Fatal("denied publish must not persist")
	}
}

func TestPublishNoLocalSkipsPublisherOwnSubscription(t *testing.T) {
	d, _, _, pusher := newTestDispatcher()
	d.Subscriptions.Add("pub1", model.Subscription{ClientID: "pub1", SubPath: "a/b", NoLocal: true})

	if _, err := d.Publish(context.Background(), Request{
		ClusterName: "default", PublisherClient: "pub1", Topic: "a/b", Payload: []byte("x"),
	}); err != nil {
		t.Fatal(err)
	}
	if len(pusher.pushed) != 0 {
		t.Fatalf("pushed = %+v, want none (no_local)", pusher.pushed)
	}
}

func TestPublishDelayedTopicQueuesInsteadOfPersisting(t *testing.T) {
	d, _, persister, pusher := newTestDispatcher()

	res, err := d.Publish(context.Background(), Request{
		ClusterName: "default", PublisherClient: "pub1", Topic: "$delayed/3/a/b", Payload: []byte("x"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Delayed || res.Topic != "a/b" {
		t.Fatalf("Publish result = %+v, want Delayed=true Topic=a/b", res)
	}
	if len(persister.writes) != 0 || len(pusher.pushed) != 0 {
		t.Fatal("delayed publish must not persist or fan out immediately")
	}
}

func TestPublishRetainEmptyPayloadClearsRetain(t *testing.T) {
	d, topics, _, _ := newTestDispatcher()

	if _, err := d.Publish(context.Background(), Request{
		ClusterName: "default", PublisherClient: "pub1", Topic: "a/b", Payload: []byte("x"), Retain: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := topics.retain["default/a/b"]; !ok {
		t.Fatal("expected retain to be set")
	}

	if _, err := d.Publish(context.Background(), Request{
		ClusterName: "default", PublisherClient: "pub1", Topic: "a/b", Payload: nil, Retain: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := topics.retain["default/a/b"]; ok {
		t.Fatal("expected retain to be cleared by empty-payload retain publish")
	}
}
