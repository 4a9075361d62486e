// Package topic implements MQTT topic filter parsing and matching:
// plain filters with `+`/`#` wildcards, `$share/<group>/` shared
// subscriptions, and `$exclusive` single-owner subscriptions (spec.md
// §4.1 "Subscription taxonomy"). No direct teacher equivalent exists
// (grafana-tempo has no pub/sub routing); grounded on spec.md §4.1's
// taxonomy description and on the standard MQTT v5 topic-matching rules
// it implicitly assumes.
package topic

import "strings"

const (
	sharePrefix     = "$share/"
	exclusivePrefix = "$exclusive"
)

// Kind classifies a parsed subscription filter.
type Kind int

const (
	KindPlain Kind = iota
	KindShared
	KindExclusive
)

// Filter is a parsed subscription filter.
type Filter struct {
	Kind      Kind
	Group     string // set when Kind == KindShared
	RealTopic string // the filter with any taxonomy prefix stripped
	segments  []string
}

// Parse classifies and segments a raw subscription filter string per
// spec.md §4.1: a "$share/<group>/<rest>" prefix makes it a shared
// subscription on <rest>; a "$exclusive" prefix (spec.md: "stripped
// prefix is the topic") makes it exclusive; anything else is a plain
// filter.
func Parse(raw string) Filter {
	if strings.HasPrefix(raw, sharePrefix) {
		rest := raw[len(sharePrefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			group := rest[:idx]
			real := rest[idx+1:]
			return Filter{Kind: KindShared, Group: group, RealTopic: real, segments: strings.Split(real, "/")}
		}
	}
	if strings.HasPrefix(raw, exclusivePrefix) {
		real := strings.TrimPrefix(raw, exclusivePrefix)
		real = strings.TrimPrefix(real, "/")
		return Filter{Kind: KindExclusive, RealTopic: real, segments: strings.Split(real, "/")}
	}
	return Filter{Kind: KindPlain, RealTopic: raw, segments: strings.Split(raw, "/")}
}

// Matches reports whether this filter matches a concrete published
// topic name, applying standard MQTT `+` (single level) and `#`
// (multi-level, trailing only) wildcard semantics.
func (f Filter) Matches(topicName string) bool {
	if strings.HasPrefix(topicName, "$") && len(f.segments) > 0 &&
		(f.segments[0] == "+" || f.segments[0] == "#") && !strings.HasPrefix(f.RealTopic, "$") {
		return false
	}
	return matchSegments(f.segments, strings.Split(topicName, "/"))
}

func matchSegments(filter, topicSegs []string) bool {
	for i, seg := range filter {
		if seg == "#" {
			return i == len(filter)-1
		}
		if i >= len(topicSegs) {
			return false
		}
		if seg != "+" && seg != topicSegs[i] {
			return false
		}
	}
	return len(filter) == len(topicSegs)
}
