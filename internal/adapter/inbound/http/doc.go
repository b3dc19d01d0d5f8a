// Package http exposes the authorization service over HTTP.
//
// # Usage
//
//	srv := http.NewServer(authz,
//	    http.WithAddr(":8080"),
//	    http.WithLogger(logger),
//	    http.WithHealthChecker(http.NewHealthChecker(authz, storage, version)),
//	)
//	err := srv.Start(ctx)
//
// # Endpoints
//
//	POST   /v1/enforce        - decide {"request": ["alice", "data1", "read"]}
//	                            or {"fields": {"sub": "alice", ...}}
//	GET    /v1/policies       - list policy and grouping rows
//	POST   /v1/policies       - add {"ptype": "p", "rule": [...]}
//	DELETE /v1/policies       - remove {"ptype": "g", "rule": [...]}
//	POST   /v1/policies/save  - write all rows to the policy adapter
//	GET    /v1/roles/{user}   - direct and inherited roles, ?domain= for domain models
//	POST   /v1/reload         - rebuild the enforcer from model and adapter
//	GET    /v1/decisions      - recent audit records, newest first; filters
//	                            ?event= ?decision=allow|deny ?subject= ?limit=
//	GET    /health            - component health
//	GET    /metrics           - Prometheus metrics
//
// A denied request is a 200 response with "allowed": false. Malformed requests,
// including a request with the wrong number of values, return 400. A broken
// model or unreachable storage returns 500. /v1/decisions returns 404 unless
// the server was built WithAuditLog.
//
// # Request Headers
//
//	X-Request-ID: <id>  - correlation id, generated when absent and echoed back
package http
