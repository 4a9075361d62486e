package publish

import (
	"regexp"
	"sort"
	"sync"

	"github.com/robustmq/robustmq/internal/meta/model"
)

// Rewriter applies topic-rewrite rules at publish/subscribe time (spec.md
// §3 "Topic rewrite rule... applied at publish/subscribe time; ordered by
// timestamp ascending; first match wins").
type Rewriter struct {
	mu    sync.RWMutex
	rules []model.TopicRewriteRule
}

func NewRewriter() *Rewriter { return &Rewriter{} }

// SetRules replaces the full rule set, sorting by Timestamp ascending so
// Rewrite can apply first-match-wins in one linear scan.
func (r *Rewriter) SetRules(rules []model.TopicRewriteRule) {
	sorted := make([]model.TopicRewriteRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = sorted
}

// Rewrite returns the destination topic for the first rule matching
// (action, topic), or topic itself if no rule matches. action must be
// model.ActionPublish or model.ActionSubscribe; rules with
// model.ActionAll apply to both.
func (r *Rewriter) Rewrite(action model.AclAction, topic string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Action != model.ActionAll && rule.Action != action {
			continue
		}
		re, err := compileRewriteRegex(rule.SourcePattern)
		if err != nil || !re.MatchString(topic) {
			continue
		}
		return rule.DestTopic
	}
	return topic
}

var (
	rewriteRegexMu    sync.Mutex
	rewriteRegexCache = make(map[string]*regexp.Regexp)
)

func compileRewriteRegex(pattern string) (*regexp.Regexp, error) {
	rewriteRegexMu.Lock()
	defer rewriteRegexMu.Unlock()
	if re, ok := rewriteRegexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rewriteRegexCache[pattern] = re
	return re, nil
}
