package matcher

import (
	"errors"
	"fmt"
	"testing"
)

func TestKeyMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key1, key2 string
		want       bool
	}{
		{"/foo", "/foo", true},
		{"/foo", "/foo*", true},
		{"/foo", "/foo/*", false},
		{"/foo/bar", "/foo", false},
		{"/foo/bar", "/foo*", true},
		{"/foo/bar", "/foo/*", true},
		{"/foobar", "/foo", false},
	}
	for _, tt := range tests {
		if got := KeyMatch(tt.key1, tt.key2); got != tt.want {
			t.Errorf("KeyMatch(%q, %q) = %v, want %v", tt.key1, tt.key2, got, tt.want)
		}
	}
}

func TestKeyMatch2(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key1, key2 string
		want       bool
	}{
		{"/foo", "/foo", true},
		{"/foo/bar", "/foo/*", true},
		{"/resource1", "/:resource", true},
		{"/myid/using/myresid", "/:id/using/:resId", true},
		{"/alice/all", "/:id", false},
		{"/foo/baz", "/bar/*", false},
	}
	for _, tt := range tests {
		if got := KeyMatch2(tt.key1, tt.key2); got != tt.want {
			t.Errorf("KeyMatch2(%q, %q) = %v, want %v", tt.key1, tt.key2, got, tt.want)
		}
	}
}

func TestKeyMatch3(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key1, key2 string
		want       bool
	}{
		{"/resource1", "/{resource}", true},
		{"/myid/using/myresid", "/{id}/using/{resId}", true},
		{"/a/b", "/{id}", false},
	}
	for _, tt := range tests {
		if got := KeyMatch3(tt.key1, tt.key2); got != tt.want {
			t.Errorf("KeyMatch3(%q, %q) = %v, want %v", tt.key1, tt.key2, got, tt.want)
		}
	}
}

func TestRegexMatch(t *testing.T) {
	t.Parallel()

	if !RegexMatch("/topic/create", "/topic/create") {
		t.Error("expected literal match")
	}
	if !RegexMatch("/topic/delete/123", "/topic/delete/[0-9]+") {
		t.Error("expected pattern match")
	}
	if RegexMatch("/topic/delete/abc", "^/topic/delete/[0-9]+$") {
		t.Error("unexpected match")
	}
	if RegexMatch("x", "(") {
		t.Error("invalid pattern must not match")
	}
}

func TestRegexpCache_Bounded(t *testing.T) {
	t.Parallel()

	c := newRegexpCache(8)
	for i := range 100 {
		if re := c.compile(fmt.Sprintf("^user%d$", i)); re == nil || !re.MatchString(fmt.Sprintf("user%d", i)) {
			t.Fatalf("compile(^user%d$) did not match", i)
		}
	}
	if c.len() != 8 {
		t.Errorf("len() = %d, want 8", c.len())
	}
	if c.compile("(") != nil {
		t.Error("invalid pattern compiled")
	}
	if c.len() != 8 {
		t.Errorf("len() after invalid pattern = %d, want 8", c.len())
	}
}

func TestIPMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ip1, ip2 string
		want     bool
	}{
		{"192.168.2.123", "192.168.2.0/24", true},
		{"192.168.3.123", "192.168.2.0/24", false},
		{"192.168.2.123", "192.168.2.123", true},
		{"10.0.0.1", "10.0.0.2", false},
		{"not-an-ip", "10.0.0.0/8", false},
		{"10.0.0.1", "garbage", false},
	}
	for _, tt := range tests {
		if got := IPMatch(tt.ip1, tt.ip2); got != tt.want {
			t.Errorf("IPMatch(%q, %q) = %v, want %v", tt.ip1, tt.ip2, got, tt.want)
		}
	}
}

func TestGlobMatch(t *testing.T) {
	t.Parallel()

	if !GlobMatch("/foo/bar", "/foo/*") {
		t.Error("expected glob match")
	}
	if GlobMatch("/foo/bar/baz", "/foo/*") {
		t.Error("glob * must not cross separators")
	}
}

func TestBuiltins_ArgumentChecks(t *testing.T) {
	t.Parallel()

	fns := Builtins()
	keyMatch := fns["keyMatch"]

	if _, err := keyMatch("a"); !errors.Is(err, ErrArgumentCount) {
		t.Errorf("one argument error = %v, want ErrArgumentCount", err)
	}
	if _, err := keyMatch("a", int64(1)); !errors.Is(err, ErrArgumentType) {
		t.Errorf("int argument error = %v, want ErrArgumentType", err)
	}
	got, err := keyMatch("/foo/bar", "/foo/*")
	if err != nil || got != true {
		t.Errorf("keyMatch() = %v, %v; want true, nil", got, err)
	}

	clone := fns.Clone()
	delete(clone, "keyMatch")
	if _, ok := fns["keyMatch"]; !ok {
		t.Error("Clone() shares storage with the original")
	}
}
