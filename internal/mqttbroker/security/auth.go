package security

import (
	"context"

	"github.com/robustmq/robustmq/internal/errs"
	"github.com/robustmq/robustmq/internal/meta/model"
)

// Credentials is what a CONNECT packet supplies to authenticate.
type Credentials struct {
	ClientID string
	Username string
	Password string
	IP       string
	// Extra carries driver-specific material (JWT bearer token, SCRAM
	// first/final message, etc.) that a plaintext check never needs.
	Extra map[string]string
}

// Driver is one authentication method in the chain spec.md §4.1
// "Authentication order" names: "Plaintext/SCRAM-SHA-256/JWT/HTTP/Redis/
// MySQL drivers consulted in order". A driver returns ok=false (no
// error) to mean "not applicable, try the next driver" and a non-nil
// error only for a hard failure that should stop the chain (e.g. a
// backend the driver depends on being unreachable).
type Driver interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (superuser bool, ok bool, err error)
}

// UserLookup fetches a user record, fetching from the meta service once
// on a local cache miss (spec.md: "try plaintext; if user unknown
// locally, fetch from meta service once and retry").
type UserLookup interface {
	LocalUser(clusterName, username string) (*model.User, bool)
	FetchUser(ctx context.Context, clusterName, username string) (*model.User, bool, error)
	CacheUser(clusterName string, u *model.User)
}

// PlaintextDriver checks username/password against the broker's user
// cache, fetching once from the meta service on a miss.
type PlaintextDriver struct {
	ClusterName string
	Users       UserLookup
}

func (p *PlaintextDriver) Name() string { return "plaintext" }

func (p *PlaintextDriver) Authenticate(ctx context.Context, creds Credentials) (bool, bool, error) {
	if creds.Username == "" {
		return false, false, nil
	}
	u, found := p.Users.LocalUser(p.ClusterName, creds.Username)
	if !found {
		fetched, ok, err := p.Users.FetchUser(ctx, p.ClusterName, creds.Username)
		if err != nil {
			return false, false, err
		}
		if !ok {
			return false, false, nil
		}
		p.Users.CacheUser(p.ClusterName, fetched)
		u = fetched
	}
	if u.Password != creds.Password {
		return false, false, nil
	}
	return u.IsSuperuser, true, nil
}

// Chain runs the blacklist check then every configured Driver in order,
// first success wins (spec.md §4.1 "Authentication order").
type Chain struct {
	ClusterName string
	Blacklist   func(clusterName string) []*model.Blacklist
	Drivers     []Driver
	Now         func() int64
}

// AuthResult reports the outcome of a successful authentication.
type AuthResult struct {
	Driver    string
	Superuser bool
}

// Authenticate runs the full order spec.md §4.1 describes: blacklist
// first (any match is an immediate reject), then each driver in order,
// first success wins.
func (c *Chain) Authenticate(ctx context.Context, creds Credentials) (AuthResult, error) {
	if Blacklisted(c.Blacklist(c.ClusterName), creds.Username, creds.ClientID, creds.IP, c.Now()) {
		return AuthResult{}, errs.New(errs.Authentication, "client is blacklisted")
	}
	for _, d := range c.Drivers {
		superuser, ok, err := d.Authenticate(ctx, creds)
		if err != nil {
			return AuthResult{}, err
		}
		if ok {
			return AuthResult{Driver: d.Name(), Superuser: superuser}, nil
		}
	}
	return AuthResult{}, errs.New(errs.Authentication, "no authentication driver accepted the credentials")
}
