package file

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
)

const testModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

func newModel(t *testing.T) model.Model {
	t.Helper()
	m, err := model.NewModelFromText(testModel)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAdapter_LoadPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "text",
			file:    "policy.csv",
			content: "p, alice, data1, read\n\n# admins\ng, bob, alice\n",
		},
		{
			name:    "yaml",
			file:    "policy.yaml",
			content: "rules:\n  - [p, alice, data1, read]\n  - [g, bob, alice]\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewAdapter(writeFile(t, tt.file, tt.content), WithLogger(testLogger()))
			m := newModel(t)
			if err := a.LoadPolicy(m); err != nil {
				t.Fatalf("LoadPolicy() error: %v", err)
			}
			if got := m.GetPolicy("p", "p"); !reflect.DeepEqual(got, [][]string{{"alice", "data1", "read"}}) {
				t.Errorf("p rows = %v", got)
			}
			if got := m.GetPolicy("g", "g"); !reflect.DeepEqual(got, [][]string{{"bob", "alice"}}) {
				t.Errorf("g rows = %v", got)
			}
		})
	}
}

func TestAdapter_MissingFile(t *testing.T) {
	t.Parallel()

	a := NewAdapter(filepath.Join(t.TempDir(), "absent.csv"), WithLogger(testLogger()))
	m := newModel(t)
	if err := a.LoadPolicy(m); err != nil {
		t.Fatalf("LoadPolicy() error: %v", err)
	}
	if len(m.GetPolicy("p", "p")) != 0 {
		t.Error("missing file produced rows")
	}
}

func TestAdapter_StrictMode(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "policy.csv", "p, alice, data1, read\nq, broken\n")

	if err := NewAdapter(path, WithLogger(testLogger())).LoadPolicy(newModel(t)); err != nil {
		t.Errorf("permissive LoadPolicy() error: %v", err)
	}

	err := NewAdapter(path, WithMode(persist.Strict), WithLogger(testLogger())).LoadPolicy(newModel(t))
	if !errors.Is(err, persist.ErrUnknownPolicyType) {
		t.Fatalf("strict LoadPolicy() error = %v, want ErrUnknownPolicyType", err)
	}
	if !strings.Contains(err.Error(), "row 2") {
		t.Errorf("error %q does not name the row", err)
	}
}

func TestAdapter_SavePolicy(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"policy.csv", "policy.yml"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := writeFile(t, name, "")
			a := NewAdapter(path, WithLogger(testLogger()))

			src := newModel(t)
			src.AddPolicy("p", "p", []string{"alice", "data1", "read"})
			src.AddPolicy("p", "p", []string{"bob", "true", "write"})
			src.AddPolicy("g", "g", []string{"alice", "admin"})
			if err := a.SavePolicy(src); err != nil {
				t.Fatalf("SavePolicy() error: %v", err)
			}

			dst := newModel(t)
			if err := a.LoadPolicy(dst); err != nil {
				t.Fatalf("LoadPolicy() error: %v", err)
			}
			if !reflect.DeepEqual(persist.PolicyRows(dst), persist.PolicyRows(src)) {
				t.Errorf("round trip = %v, want %v", persist.PolicyRows(dst), persist.PolicyRows(src))
			}

			if _, err := os.Stat(path + ".bak"); err != nil {
				t.Errorf("backup not written: %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Errorf("temp file left behind: %v", err)
			}
		})
	}
}

func TestAdapter_AddRemovePolicy(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "policy.csv", "p, alice, data1, read\n")
	a := NewAdapter(path, WithLogger(testLogger()))

	if err := a.AddPolicy("p", "p", []string{"bob", "data2", "write"}); err != nil {
		t.Fatalf("AddPolicy() error: %v", err)
	}
	if err := a.AddPolicy("p", "p", []string{"bob", "data2", "write"}); err != nil {
		t.Fatalf("AddPolicy(duplicate) error: %v", err)
	}
	if err := a.RemovePolicy("p", "p", []string{"alice", "data1", "read"}); err != nil {
		t.Fatalf("RemovePolicy() error: %v", err)
	}
	if err := a.RemovePolicy("p", "p", []string{"nobody", "x", "y"}); err != nil {
		t.Fatalf("RemovePolicy(missing) error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "p, bob, data2, write\n" {
		t.Errorf("file = %q", got)
	}
}
