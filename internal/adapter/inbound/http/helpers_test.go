package http

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
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

const testPolicy = `p, admin, data1, write
p, bob, data2, read
g, alice, admin`

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAuthz builds an AuthzService over an in-memory adapter.
func newTestAuthz(t *testing.T) *service.AuthzService {
	t.Helper()
	a := memory.NewPolicyAdapter(testPolicy)
	factory := func(context.Context) (*service.Enforcer, error) {
		m, err := model.NewModelFromText(testModel)
		if err != nil {
			return nil, err
		}
		return service.NewEnforcer(m, a, discardLogger())
	}
	authz, err := service.NewAuthzService(context.Background(), factory, discardLogger())
	if err != nil {
		t.Fatalf("NewAuthzService() error: %v", err)
	}
	return authz
}
