package api

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tenancy/internal/auth"
	"tenancy/internal/errs"
	"tenancy/internal/manager"
	"tenancy/internal/model"
	"tenancy/internal/tenancy"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TenantSummary is what a tenant host reports about itself.
type TenantSummary struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Subdomain       string `json:"subdomain"`
	Host            string `json:"host"`
	SearchNamespace string `json:"search_namespace"`
	Users           int64  `json:"users"`
	Campaigns       int64  `json:"campaigns"`
}

// ProgressResponse is the last recorded provisioning progress.
type ProgressResponse struct {
	TenantID int64                    `json:"tenant_id"`
	Status   model.ProvisioningStatus `json:"status"`
	Step     string                   `json:"step"`
	Percent  int                      `json:"percent"`
	Attempt  int                      `json:"attempt"`
}

// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /healthz [get]
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, body := http.StatusOK, map[string]string{"status": "ok"}
	for name, check := range a.Checks {
		if err := check(ctx); err != nil {
			a.Log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			status, body["status"] = http.StatusServiceUnavailable, "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, status, body)
}

// @Summary Central landing
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router / [get]
func (a *API) Home(w http.ResponseWriter, r *http.Request) {
	scope := tenancy.FromContext(r.Context())
	if !scope.IsCentral() {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "tenancy", "host": scope.Host})
}

// @Summary Register a tenant
// @Description Creates a pending tenant and enqueues its provisioning job.
// @Tags Tenants
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body manager.Registration true "Tenant registration"
// @Success 202 {object} model.Tenant
// @Failure 400 {object} errorBody
// @Failure 409 {object} errorBody
// @Failure 503 {object} errorBody
// @Router /admin/tenants [post]
func (a *API) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var reg manager.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errs.EInvalid, Message: "bad request body"})
		return
	}

	tenant, err := a.Tenants.Register(r.Context(), reg)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Info("tenant registered by operator",
		zap.String("operator", auth.OperatorFromContext(r.Context())),
		zap.Int64("tenant_id", tenant.ID),
		zap.String("subdomain", tenant.Subdomain),
	)
	writeJSON(w, http.StatusAccepted, tenant)
}

// @Summary Get a tenant
// @Tags Tenants
// @Security ApiKeyAuth
// @Produce json
// @Param id path int true "Tenant ID"
// @Success 200 {object} model.Tenant
// @Failure 404 {object} errorBody
// @Router /admin/tenants/{id} [get]
func (a *API) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := a.Tenants.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// @Summary Re-queue provisioning
// @Description Moves a failed tenant back to pending and enqueues a new job.
// @Tags Tenants
// @Security ApiKeyAuth
// @Produce json
// @Param id path int true "Tenant ID"
// @Success 202 {object} model.Tenant
// @Failure 409 {object} errorBody
// @Router /admin/tenants/{id}/requeue [post]
func (a *API) RequeueTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := a.Tenants.Requeue(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Info("tenant re-queued by operator",
		zap.String("operator", auth.OperatorFromContext(r.Context())), zap.Int64("tenant_id", id))
	writeJSON(w, http.StatusAccepted, tenant)
}

// @Summary Suspend a tenant
// @Tags Tenants
// @Security ApiKeyAuth
// @Produce json
// @Param id path int true "Tenant ID"
// @Success 200 {object} model.Tenant
// @Failure 409 {object} errorBody
// @Router /admin/tenants/{id}/suspend [post]
func (a *API) SuspendTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := a.Tenants.Suspend(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Warn("tenant suspended by operator",
		zap.String("operator", auth.OperatorFromContext(r.Context())), zap.Int64("tenant_id", id))
	writeJSON(w, http.StatusOK, tenant)
}

// @Summary Provisioning progress
// @Tags Tenants
// @Security ApiKeyAuth
// @Produce json
// @Param id path int true "Tenant ID"
// @Success 200 {object} ProgressResponse
// @Failure 404 {object} errorBody
// @Router /admin/tenants/{id}/progress [get]
func (a *API) TenantProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	tenant, err := a.Tenants.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.Tenants.Progress(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := ProgressResponse{TenantID: id, Status: tenant.Status}
	if p != nil {
		resp.Step, resp.Percent, resp.Attempt = p.Step, p.Percent, p.Attempt
	}
	if tenant.Status == model.StatusProvisioned {
		resp.Percent = 100
	}
	writeJSON(w, http.StatusOK, resp)
}

// @Summary Current tenant
// @Tags Tenant
// @Produce json
// @Success 200 {object} TenantSummary
// @Failure 404 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /api/tenant [get]
func (a *API) CurrentTenant(w http.ResponseWriter, r *http.Request) {
	summary, err := summarize(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

var dashboardPage = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Name}}</title>
</head>
<body>
<h1>{{.Name}}</h1>
<dl>
<dt>Users</dt><dd>{{.Users}}</dd>
<dt>Campaigns</dt><dd>{{.Campaigns}}</dd>
</dl>
</body>
</html>
`))

func (a *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := summarize(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardPage.Execute(w, summary); err != nil {
		a.Log.Error("failed to render dashboard", zap.Error(err))
	}
}

// summarize reads counters through the connection bound to this request.
func summarize(ctx context.Context) (*TenantSummary, error) {
	scope := tenancy.FromContext(ctx)
	if scope.IsCentral() || scope.Conn == nil {
		return nil, errs.New(errs.ENotFound, "api.summarize", "no tenant bound to request")
	}
	s := &TenantSummary{
		ID:              scope.Tenant.ID,
		Name:            scope.Tenant.Name,
		Subdomain:       scope.Tenant.Subdomain,
		Host:            scope.Host,
		SearchNamespace: scope.SearchNamespace,
	}
	err := scope.Conn.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM users), (SELECT count(*) FROM campaigns)`,
	).Scan(&s.Users, &s.Campaigns)
	if err != nil {
		return nil, errs.Wrap(err, errs.EInternal, "api.summarize")
	}
	return s, nil
}

func tenantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errs.EInvalid, Message: "invalid tenant id"})
		return 0, false
	}
	return id, true
}

// writeError maps coded errors to statuses. Server-side details are logged, not returned.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.Code(err)
	status := errs.HTTPStatus(code)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.Log.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
