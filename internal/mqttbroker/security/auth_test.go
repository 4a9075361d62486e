package security

import (
	"context"
	"testing"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/model"
)

type memUsers struct {
	local   map[string]*model.User
	remote  map[string]*model.User
	fetched []string
}

func newMemUsers() *memUsers {
	return &memUsers{local: map[string]*model.User{}, remote: map[string]*model.User{}}
}

func (m *memUsers) LocalUser(_, username string) (*model.User, bool) {
	u, ok := m.local[username]
	return u, ok
}

func (m *memUsers) FetchUser(_ context.Context, _, username string) (*model.User, bool, error) {
	m.fetched = append(m.fetched, username)
	u, ok := m.remote[username]
	return u, ok, nil
}

func (m *memUsers) CacheUser(_ string, u *model.User) {
	m.local[u.Username] = u
}

func TestPlaintextDriverFetchesOnceOnCacheMiss(t *testing.T) {
	users := newMemUsers()
	users.remote["alice"] = &model.User{Username: "alice", Password: "secret"}
	d := &PlaintextDriver{ClusterName: "default", Users: users}

	superuser, ok, err := d.Authenticate(context.Background(), Credentials{Username: "alice", Password: "secret"})
	if err != nil || !ok || superuser {
		t.Fatalf("Authenticate = %v, %v, %v, want false, true, nil", superuser, ok, err)
	}
	if len(users.fetched) != 1 {
		t.Fatalf("fetched %d times, want exactly 1", len(users.fetched))
	}

	// second call should be served from the now-warm local cache, not fetch again
	if _, ok, err := d.Authenticate(context.Background(), Credentials{Username: "alice", Password: "secret"}); err != nil || !ok {
		t.Fatalf("second Authenticate = %v, %v", ok, err)
	}
	if len(users.fetched) != 1 {
		t.Fatalf("fetched %d times after cache warm, want still 1", len(users.fetched))
	}
}

func TestPlaintextDriverWrongPasswordFails(t *testing.T) {
	users := newMemUsers()
	users.remote["alice"] = &model.User{Username: "alice", Password: "secret"}
	d := &PlaintextDriver{ClusterName: "default", Users: users}

	_, ok, err := d.Authenticate(context.Background(), Credentials{Username: "alice", Password: "wrong"})
	if err != nil || ok {
		t.Fatalf("Authenticate with wrong password = %v, %v, want false, nil", ok, err)
	}
}

func TestChainRejectsBlacklistedClientBeforeTryingDrivers(t *testing.T) {
	tried := false
	fakeDriver := driverFunc{name: "fake", fn: func(context.Context, Credentials) (bool, bool, error) {
		tried = true
		return false, true, nil
	}}
	c := &Chain{
		ClusterName: "default",
		Blacklist: func(string) []*model.Blacklist {
			return []*model.Blacklist{{BlacklistType: model.BlacklistClientID, ResourceName: "evil"}}
		},
		Drivers: []Driver{fakeDriver},
		Now:     func() int64 { return 1000 },
	}

	_, err := c.Authenticate(context.Background(), Credentials{ClientID: "evil"})
	if !errs.Is(err, errs.Authentication) {
		t.Fatalf("Authenticate err = %v, want Authentication", err)
	}
	if tried {
		t.Fatal("driver should not run for a blacklisted client")
	}
}

func TestChainFirstSuccessWins(t *testing.T) {
	first := driverFunc{name: "first", fn: func(context.Context, Credentials) (bool, bool, error) { return false, false, nil }}
	second := driverFunc{name: "second", fn: func(context.Context, Credentials) (bool, bool, error) { return true, true, nil }}
	c := &Chain{
		ClusterName: "default",
		Blacklist:   func(string) []*model.Blacklist { return nil },
		Drivers:     []Driver{first, second},
		Now:         func() int64 { return 1000 },
	}

	res, err := c.Authenticate(context.Background(), Credentials{Username: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Driver != "second" || !res.Superuser {
		t.Fatalf("AuthResult = %+v, want driver=second superuser=true", res)
	}
}

type driverFunc struct {
	name string
	fn   func(context.Context, Credentials) (bool, bool, error)
}

func (d driverFunc) Name() string { return d.name }
func (d driverFunc) Authenticate(ctx context.Context, creds Credentials) (bool, bool, error) {
	return d.fn(ctx, creds)
}
