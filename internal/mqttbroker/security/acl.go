// Package security also evaluates per-packet ACL rules (spec.md §4.1
// "ACL evaluation"): linear scan over rules keyed by resource type,
// explicit Deny overriding Allow, `*` wildcarding topic/ip, CIDR
// matching ip networks.
package security

import (
	"net"

	"github.com/robustmq/robustmq/internal/meta/model"
)

// Request is the (username, client_id, ip, topic, action) tuple spec.md
// §4.1 evaluates ACLs against.
type Request struct {
	Username string
	ClientID string
	IP       string
	Topic    string
	Action   model.AclAction
}

// Evaluate scans rules linearly; an explicit Deny anywhere overrides any
// Allow, matching spec.md's "Explicit Deny overrides Allow". Absence of
// any matching rule allows the request (default-allow, since the spec
// only says "explicit Deny overrides Allow" and gives no default-deny
// rule).
func Evaluate(rules []*model.Acl, req Request) bool {
	allowed := true
	for _, rule := range rules {
		if !ruleApplies(rule, req) {
			continue
		}
		if rule.Permission == model.PermissionDeny {
			return false
		}
		allowed = true
	}
	return allowed
}

func ruleApplies(rule *model.Acl, req Request) bool {
	switch rule.ResourceType {
	case model.ResourceUser:
		if rule.ResourceName != req.Username {
			return false
		}
	case model.ResourceClientID:
		if rule.ResourceName != req.ClientID {
			return false
		}
	default:
		return false
	}
	if rule.Action != model.ActionAll && rule.Action != req.Action {
		return false
	}
	if rule.Topic != "*" && rule.Topic != req.Topic {
		return false
	}
	if rule.IP != "" && rule.IP != "*" && !ipMatches(rule.IP, req.IP) {
		return false
	}
	return true
}

func ipMatches(rule, ip string) bool {
	if rule == ip {
		return true
	}
	if _, network, err := net.ParseCIDR(rule); err == nil {
		if parsed := net.ParseIP(ip); parsed != nil {
			return network.Contains(parsed)
		}
	}
	return false
}

// Blacklisted reports whether (username, client_id, ip) matches any
// active blacklist entry, exact or regex/CIDR, per spec.md §4.1
// "reject if client_id/user/ip matches any blacklist entry (exact or
// regex/CIDR)".
func Blacklisted(entries []*model.Blacklist, username, clientID, ip string, now int64) bool {
	for _, e := range entries {
		if e.EndTime != 0 && e.EndTime < now {
			continue
		}
		if blacklistMatches(e, username, clientID, ip) {
			return true
		}
	}
	return false
}

func blacklistMatches(e *model.Blacklist, username, clientID, ip string) bool {
	switch e.BlacklistType {
	case model.BlacklistUser:
		return e.ResourceName == username
	case model.BlacklistClientID:
		return e.ResourceName == clientID
	case model.BlacklistIP:
		return e.ResourceName == ip
	case model.BlacklistUserMatch:
		return regexMatches(e.ResourceName, username)
	case model.BlacklistClientIDMatch:
		return regexMatches(e.ResourceName, clientID)
	case model.BlacklistIPCIDR:
		return ipMatches(e.ResourceName, ip)
	default:
		return false
	}
}

func regexMatches(pattern, value string) bool {
	re, err := compileCached(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
