package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/meta/model"
)

func TestEvaluateAllowsWhenNoRuleMatches(t *testing.T) {
	require.True(t, Evaluate(nil, Request{Username: "alice", Topic: "a/b", Action: model.ActionPublish}))
}

func TestEvaluateExplicitDenyOverridesAllow(t *testing.T) {
	rules := []*model.Acl{
		{ResourceType: model.ResourceUser, ResourceName: "alice", Topic: "*", Action: model.ActionAll, Permission: model.PermissionAllow},
		{ResourceType: model.ResourceUser, ResourceName: "alice", Topic: "secret/#", Action: model.ActionPublish, Permission: model.PermissionDeny},
	}
	require.False(t, Evaluate(rules, Request{Username: "alice", Topic: "secret/#", Action: model.ActionPublish}))
	require.True(t, Evaluate(rules, Request{Username: "alice", Topic: "public", Action: model.ActionPublish}))
}

func TestEvaluateMatchesCIDR(t *testing.T) {
	rules := []*model.Acl{
		{ResourceType: model.ResourceClientID, ResourceName: "dev-1", Topic: "*", IP: "10.0.0.0/8", Action: model.ActionAll, Permission: model.PermissionDeny},
	}
	require.False(t, Evaluate(rules, Request{ClientID: "dev-1", IP: "10.1.2.3", Topic: "x", Action: model.ActionSubscribe}))
	require.True(t, Evaluate(rules, Request{ClientID: "dev-1", IP: "192.168.1.1", Topic: "x", Action: model.ActionSubscribe}))
}

func TestBlacklistedExactAndExpiry(t *testing.T) {
	now := time.Now().Unix()
	entries := []*model.Blacklist{
		{BlacklistType: model.BlacklistClientID, ResourceName: "bad-client", EndTime: now + 60},
		{BlacklistType: model.BlacklistClientID, ResourceName: "expired-client", EndTime: now - 60},
	}
	require.True(t, Blacklisted(entries, "", "bad-client", "", now))
	require.False(t, Blacklisted(entries, "", "expired-client", "", now))
}

func TestBlacklistedRegexAndCIDR(t *testing.T) {
	now := time.Now().Unix()
	entries := []*model.Blacklist{
		{BlacklistType: model.BlacklistClientIDMatch, ResourceName: "^bot-.*"},
		{BlacklistType: model.BlacklistIPCIDR, ResourceName: "172.16.0.0/12"},
	}
	require.True(t, Blacklisted(entries, "", "bot-123", "", now))
	require.False(t, Blacklisted(entries, "", "normal-client", "10.0.0.1", now))
	require.True(t, Blacklisted(entries, "", "normal-client", "172.16.5.5", now))
}
