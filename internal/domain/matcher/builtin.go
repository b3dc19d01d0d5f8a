package matcher

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Builtins returns the functions available to every matcher.
func Builtins() FunctionMap {
	return FunctionMap{
		"keyMatch":   wrap("keyMatch", KeyMatch),
		"keyMatch2":  wrap("keyMatch2", KeyMatch2),
		"keyMatch3":  wrap("keyMatch3", KeyMatch3),
		"regexMatch": wrap("regexMatch", RegexMatch),
		"ipMatch":    wrap("ipMatch", IPMatch),
		"globMatch":  wrap("globMatch", GlobMatch),
	}
}

// wrap adapts a two-string predicate to a Function.
func wrap(name string, fn func(key1, key2 string) bool) Function {
	return func(args ...any) (any, error) {
		if len(args) != 2 {
			return false, fmt.Errorf("%s: %w: got %d, want 2", name, ErrArgumentCount, len(args))
		}
		key1, ok1 := args[0].(string)
		key2, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("%s: %w: want (string, string), got (%T, %T)", name, ErrArgumentType, args[0], args[1])
		}
		return fn(key1, key2), nil
	}
}

// KeyMatch reports whether key1 matches key2, where key2 may end in a "*" wildcard.
// "/foo/bar" matches "/foo/*".
func KeyMatch(key1, key2 string) bool {
	i := strings.Index(key2, "*")
	if i == -1 {
		return key1 == key2
	}
	if len(key1) > i {
		return key1[:i] == key2[:i]
	}
	return key1 == key2[:i]
}

var (
	keyMatch2Param = regexp.MustCompile(`:[^/]+`)
	keyMatch3Param = regexp.MustCompile(`\{[^/]+?\}`)
)

// KeyMatch2 reports whether key1 matches key2, where key2 may contain "*" and
// ":param" segments. "/resource1" matches "/:resource".
func KeyMatch2(key1, key2 string) bool {
	key2 = strings.ReplaceAll(key2, "/*", "/.*")
	key2 = keyMatch2Param.ReplaceAllString(key2, "[^/]+")
	return regexMatchCached("^"+key2+"$", key1)
}

// KeyMatch3 reports whether key1 matches key2, where key2 may contain "*" and
// "{param}" segments. "/resource1" matches "/{resource}".
func KeyMatch3(key1, key2 string) bool {
	key2 = strings.ReplaceAll(key2, "/*", "/.*")
	key2 = keyMatch3Param.ReplaceAllString(key2, "[^/]+")
	return regexMatchCached("^"+key2+"$", key1)
}

// RegexMatch reports whether key1 matches the regular expression key2.
// Invalid patterns never match.
func RegexMatch(key1, key2 string) bool {
	return regexMatchCached(key2, key1)
}

// IPMatch reports whether ip1 equals ip2, or lies in ip2 when ip2 is a CIDR.
// Unparseable addresses never match.
func IPMatch(ip1, ip2 string) bool {
	addr := net.ParseIP(ip1)
	if addr == nil {
		return false
	}
	if _, network, err := net.ParseCIDR(ip2); err == nil {
		return network.Contains(addr)
	}
	other := net.ParseIP(ip2)
	if other == nil {
		return false
	}
	return addr.Equal(other)
}

// GlobMatch reports whether key1 matches the glob pattern key2.
func GlobMatch(key1, key2 string) bool {
	matched, _ := filepath.Match(key2, key1)
	return matched
}

// maxCachedPatterns bounds the compiled regexp cache. Policies reuse a small
// set of patterns; matchers that pass request values as patterns must not
// grow it without limit.
const maxCachedPatterns = 1024

// regexpCache maps a pattern to its compiled form, nil for invalid patterns.
// When full, an arbitrary entry is evicted.
type regexpCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*regexp.Regexp
}

func newRegexpCache(capacity int) *regexpCache {
	return &regexpCache{capacity: capacity, entries: make(map[string]*regexp.Regexp)}
}

func (c *regexpCache) compile(pattern string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[pattern]; !ok && len(c.entries) >= c.capacity {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[pattern] = re
	return re
}

func (c *regexpCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var patterns = newRegexpCache(maxCachedPatterns)

func regexMatchCached(pattern, s string) bool {
	re := patterns.compile(pattern)
	return re != nil && re.MatchString(s)
}
