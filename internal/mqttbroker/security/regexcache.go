package security

import (
	"regexp"
	"sync"
)

// regexCache memoizes compiled patterns for blacklist *Match rules,
// which are re-evaluated on every connection attempt. Grounded on the
// teacher's sync.Map usage for read-heavy, write-light lookups
// (friggdb/pool).
var regexCache sync.Map // string -> *regexp.Regexp

func compileCached(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}
