package tenancy

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"tenancy/internal/model"
)

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</main>
</body>
</html>
`))

// statusMessage is shown to clients of a tenant that cannot serve requests.
func statusMessage(status model.ProvisioningStatus) (title, message string) {
	switch status {
	case model.StatusPending, model.StatusProvisioning:
		return "Setting up", "This organization is being set up. Please try again shortly."
	case model.StatusFailed:
		return "Unavailable", "This organization could not be set up. Please contact support."
	case model.StatusSuspended:
		return "Suspended", "This organization has been suspended."
	}
	return "Unavailable", "This organization is temporarily unavailable. Please try again shortly."
}

// wantsHTML reports whether the client is a browser rather than an API caller.
func wantsHTML(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func renderNotFound(w http.ResponseWriter, r *http.Request, host string) {
	const msg = "No organization is configured for this domain."
	if wantsHTML(r) {
		writeHTML(w, http.StatusNotFound, "Not found", msg)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":   "tenant_not_found",
		"domain":  host,
		"message": msg,
	})
}

func renderInactive(w http.ResponseWriter, r *http.Request, t *model.Tenant) {
	title, msg := statusMessage(t.Status)
	if t.Status == model.StatusPending || t.Status == model.StatusProvisioning {
		w.Header().Set("Retry-After", "30")
	}
	if wantsHTML(r) {
		writeHTML(w, http.StatusServiceUnavailable, title, msg)
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"error":     "tenant_inactive",
		"tenant_id": t.ID,
		"status":    t.Status,
		"message":   msg,
	})
}

func renderUnavailable(w http.ResponseWriter, r *http.Request, t *model.Tenant) {
	const msg = "This organization is temporarily unavailable. Please try again shortly."
	w.Header().Set("Retry-After", "5")
	if wantsHTML(r) {
		writeHTML(w, http.StatusServiceUnavailable, "Unavailable", msg)
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"error":     "tenant_unavailable",
		"tenant_id": t.ID,
		"status":    t.Status,
		"message":   msg,
	})
}

func renderGuardNotFound(w http.ResponseWriter, r *http.Request) {
	const msg = "The requested page does not exist on this domain."
	if wantsHTML(r) {
		writeHTML(w, http.StatusNotFound, "Not found", msg)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":   "not_found",
		"path":    r.URL.Path,
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeHTML(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = statusPage.Execute(w, struct{ Title, Message string }{title, message})
}
