// Package integration exercises the authz service end to end: storage
// adapters, the enforcer, the audit log and the HTTP API wired together the
// way the sentinel-authz binary wires them.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && r.act == p.act
`

const rbacPolicy = `p, admin, /data/*, write
p, reader, /data/*, read
g, alice, admin
g, admin, reader
g, bob, reader
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// factoryFor builds enforcers over a, reparsing the model on every reload.
func factoryFor(a persist.Adapter) service.EnforcerFactory {
	return func(context.Context) (*service.Enforcer, error) {
		m, err := model.NewModelFromText(rbacModel)
		if err != nil {
			return nil, err
		}
		return service.NewEnforcer(m, a, testLogger())
	}
}

// postJSON sends body to url and decodes the JSON response into out.
func postJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", t.Name())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, url, data, err)
		}
	}
	return resp.StatusCode
}
