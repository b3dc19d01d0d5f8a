package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

// maxBodyBytes limits request bodies of the decision API.
const maxBodyBytes = 1 << 20

// EnforceRequest is the body of POST /v1/enforce. Either Request holds the
// request values in definition order, or Fields maps request field names
// ("sub", "obj", ...) to values.
type EnforceRequest struct {
	Request []string          `json:"request,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// EnforceResponse is the body returned by POST /v1/enforce.
type EnforceResponse struct {
	Allowed bool     `json:"allowed"`
	Explain []string `json:"explain,omitempty"`
	Cached  bool     `json:"cached"`
}

// RolesResponse is the body returned by GET /v1/roles/{user}.
type RolesResponse struct {
	User          string     `json:"user"`
	Domain        string     `json:"domain,omitempty"`
	Roles         []string   `json:"roles"`
	ImplicitRoles []string   `json:"implicit_roles"`
	Permissions   [][]string `json:"permissions"`
}

// ChangeResponse reports whether a policy mutation changed anything.
type ChangeResponse struct {
	Changed bool `json:"changed"`
}

// Handler serves the decision and policy management API.
type Handler struct {
	authz    *service.AuthzService
	metrics  *Metrics
	logger   *slog.Logger
	auditLog audit.RecentReader
}

// NewHandler creates the API handler. metrics may be nil.
func NewHandler(authz *service.AuthzService, metrics *Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		authz:   authz,
		metrics: metrics,
		logger:  logger,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/enforce", h.handleEnforce)
	mux.HandleFunc("GET /v1/policies", h.handleListPolicies)
	mux.HandleFunc("POST /v1/policies", h.handleAddPolicy)
	mux.HandleFunc("DELETE /v1/policies", h.handleRemovePolicy)
	mux.HandleFunc("POST /v1/policies/save", h.handleSavePolicy)
	mux.HandleFunc("GET /v1/roles/{user}", h.handleRoles)
	mux.HandleFunc("POST /v1/reload", h.handleReload)
	mux.HandleFunc("GET /v1/decisions", h.handleDecisions)
}

func (h *Handler) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req EnforceRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rvals := req.Request
	if len(rvals) == 0 && len(req.Fields) > 0 {
		var err error
		if rvals, err = h.orderFields(req.Fields); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if len(rvals) == 0 {
		h.respondError(w, http.StatusBadRequest, "request or fields is required")
		return
	}

	d, err := h.authz.Enforce(r.Context(), rvals...)
	if err != nil {
		if h.metrics != nil {
			h.metrics.DecisionErrors.Inc()
		}
		h.respondServiceError(w, r, "enforce", err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordDecision(d.Allowed, d.Cached)
	}

	LoggerFromContext(r.Context()).Debug("decision",
		"request", rvals,
		"allowed", d.Allowed,
		"cached", d.Cached,
	)
	h.respondJSON(w, http.StatusOK, EnforceResponse{Allowed: d.Allowed, Explain: d.Explain, Cached: d.Cached})
}

// orderFields arranges named request fields in request definition order.
func (h *Handler) orderFields(fields map[string]string) ([]string, error) {
	tokens := h.authz.RequestTokens()
	if len(fields) != len(tokens) {
		return nil, fmt.Errorf("fields must name exactly %v", tokens)
	}
	rvals := make([]string, len(tokens))
	for i, tok := range tokens {
		v, ok := fields[tok]
		if !ok {
			return nil, fmt.Errorf("missing request field %q", tok)
		}
		rvals[i] = v
	}
	return rvals, nil
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string][]service.Rule{"rules": h.authz.Rules(r.Context())})
}

func (h *Handler) handleAddPolicy(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "add", h.authz.AddRule)
}

func (h *Handler) handleRemovePolicy(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "remove", h.authz.RemoveRule)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, service.Rule) (bool, error)) {
	var rule service.Rule
	if err := h.readJSON(w, r, &rule); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if rule.PType == "" || len(rule.Rule) == 0 {
		h.respondError(w, http.StatusBadRequest, "ptype and rule are required")
		return
	}

	changed, err := fn(r.Context(), rule)
	if err != nil {
		h.respondServiceError(w, r, op+" policy", err)
		return
	}
	if changed && h.metrics != nil {
		h.metrics.PolicyChanges.WithLabelValues(op).Inc()
	}

	LoggerFromContext(r.Context()).Info("policy changed",
		"op", op,
		"ptype", rule.PType,
		"rule", rule.Rule,
		"changed", changed,
	)
	h.respondJSON(w, http.StatusOK, ChangeResponse{Changed: changed})
}

func (h *Handler) handleSavePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.authz.SavePolicy(r.Context()); err != nil {
		h.respondServiceError(w, r, "save policy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) handleRoles(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var domain []string
	dom := r.URL.Query().Get("domain")
	if dom != "" {
		domain = []string{dom}
	}

	roles, implicit, err := h.authz.RolesForUser(r.Context(), user, domain...)
	if err != nil {
		h.respondServiceError(w, r, "roles", err)
		return
	}
	perms, err := h.authz.PermissionsForUser(r.Context(), user, domain...)
	if err != nil {
		h.respondServiceError(w, r, "permissions", err)
		return
	}

	h.respondJSON(w, http.StatusOK, RolesResponse{
		User:          user,
		Domain:        dom,
		Roles:         roles,
		ImplicitRoles: implicit,
		Permissions:   perms,
	})
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	err := h.authz.Reload(r.Context())
	if h.metrics != nil {
		h.metrics.RecordReload(err)
	}
	if err != nil {
		h.respondServiceError(w, r, "reload", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// --- JSON helper methods ---

// statusFor maps service errors to HTTP status codes. Malformed requests and
// rows are the caller's fault; everything else is a broken model or storage.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrRequestSize),
		errors.Is(err, service.ErrInvalidPolicyType),
		errors.Is(err, persist.ErrUnknownPolicyType),
		errors.Is(err, model.ErrInvalidGroupingRow):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoAdapter),
		errors.Is(err, persist.ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		LoggerFromContext(r.Context()).Error(op+" failed", "error", err)
	}
	h.respondError(w, status, err.Error())
}

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into v, rejecting unknown fields and
// bodies over maxBodyBytes.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
