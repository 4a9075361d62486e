package session

import (
	"context"
	"testing"
	"time"

	"github.com/robustmq/robustmq/internal/meta/model"
)

type memSessionStore struct {
	sessions map[string]model.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]model.Session{}}
}

func (m *memSessionStore) Get(_ context.Context, cluster, clientID string) (*model.Session, bool, error) {
	s, ok := m.sessions[cluster+"/"+clientID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (m *memSessionStore) Create(_ context.Context, s model.Session) error {
	m.sessions[s.ClusterName+"/"+s.ClientID] = s
	return nil
}

func (m *memSessionStore) Update(_ context.Context, s model.Session) error {
	m.sessions[s.ClusterName+"/"+s.ClientID] = s
	return nil
}

func (m *memSessionStore) Delete(_ context.Context, cluster, clientID string) error {
	delete(m.sessions, cluster+"/"+clientID)
	return nil
}

type fakeKicker struct {
	kicked []uint64
}

func (f *fakeKicker) Kick(connID uint64, _ string) {
	f.kicked = append(f.kicked, connID)
}

func TestConnectGeneratesClientIDWhenEmpty(t *testing.T) {
	store := newMemSessionStore()
	m := NewManager("default", 1, store, &fakeKicker{})

	runtime, sess, err := m.Connect(context.Background(), 1, "", true, 30*time.Second, 0, 20, 20)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.Conn.ClientID == "" || sess.ClientID != runtime.Conn.ClientID {
		t.Fatalf("Connect produced empty/mismatched client id: conn=%q sess=%q", runtime.Conn.ClientID, sess.ClientID)
	}
	if runtime.Conn.State != StateEstablished {
		t.Fatalf("conn.State = %v, want StateEstablished", runtime.Conn.State)
	}
	if runtime.PacketIDs == nil || runtime.Inbound == nil || runtime.Outbound == nil || runtime.Aliases == nil {
		t.Fatal("Connect must return a fully composed Session")
	}
}

func TestConnectKicksExistingLiveConnectionForSameClientID(t *testing.T) {
	store := newMemSessionStore()
	kicker := &fakeKicker{}
	m := NewManager("default", 1, store, kicker)

	if _, _, err := m.Connect(context.Background(), 1, "dup", true, time.Second, 0, 20, 20); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Connect(context.Background(), 2, "dup", true, time.Second, 0, 20, 20); err != nil {
		t.Fatal(err)
	}

	if len(kicker.kicked) != 1 || kicker.kicked[0] != 1 {
		t.Fatalf("kicked = %+v, want [1]", kicker.kicked)
	}
}

func TestCloseWithZeroExpiryDeletesSession(t *testing.T) {
	store := newMemSessionStore()
	m := NewManager("default", 1, store, &fakeKicker{})

	if _, _, err := m.Connect(context.Background(), 1, "c1", true, time.Second, 0, 20, 20); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(context.Background(), "c1", CloseDisconnect, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := store.Get(context.Background(), "default", "c1"); found {
		t.Fatal("session should have been deleted (expiry=0)")
	}
}

func TestCloseWithPositiveExpiryPersistsSessionAndSchedulesWill(t *testing.T) {
	store := newMemSessionStore()
	m := NewManager("default", 1, store, &fakeKicker{})

	if _, _, err := m.Connect(context.Background(), 1, "c1", true, time.Second, 120, 20, 20); err != nil {
		t.Fatal(err)
	}
	delay := uint32(5)
	will := &model.LastWill{Topic: "t", Payload: []byte("bye")}
	if err := m.Close(context.Background(), "c1", CloseIOError, will, &delay); err != nil {
		t.Fatal(err)
	}

	sess, found, err := store.Get(context.Background(), "default", "c1")
	if err != nil || !found {
		t.Fatalf("session should persist with expiry>0: found=%v err=%v", found, err)
	}
	if sess.LastWill == nil {
		t.Fatal("expected LastWill to be scheduled on the persisted session")
	}
	if sess.ConnectionID != nil {
		t.Fatal("expected ConnectionID cleared on close")
	}
}

func TestGetReturnsSessionUntilClosed(t *testing.T) {
	store := newMemSessionStore()
	m := NewManager("default", 1, store, &fakeKicker{})

	if _, _, err := m.Connect(context.Background(), 1, "c1", true, time.Second, 0, 20, 20); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("c1"); !ok {
		t.Fatal("Get(c1) = false after Connect, want true")
	}
	if err := m.Close(context.Background(), "c1", CloseDisconnect, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("c1"); ok {
		t.Fatal("Get(c1) = true after Close, want false")
	}
}

func TestKeepAliveTimeoutIsOneAndHalfTimesKeepAlive(t *testing.T) {
	got := KeepAliveTimeout(10 * time.Second)
	want := 15 * time.Second
	if got != want {
		t.Fatalf("KeepAliveTimeout(10s) = %v, want %v", got, want)
	}
}
