package session

import (
	"context"
	"maps"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenancy/internal/metrics"
	"tenancy/internal/model"
)

// Binding keys recorded in every session.
const (
	keyDomain      = "_domain"
	keyEnvironment = "_environment"
	keyFingerprint = "_key_fingerprint"
	keyRecovered   = "_recovered"
)

// Session is the per-request view of a stored session.
type Session struct {
	id        string
	values    map[string]string
	recovered bool
	dirty     bool
}

func (s *Session) ID() string { return s.id }

// Recovered reports whether the session was replaced because it belonged to
// another domain, environment or application key.
func (s *Session) Recovered() bool { return s.recovered }

func (s *Session) Get(key string) string { return s.values[key] }

func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.dirty = true
}

func (s *Session) Delete(key string) {
	delete(s.values, key)
	s.dirty = true
}

type ctxKey struct{}

// FromContext returns the request's session or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

type Options struct {
	CookieName string
	Secure     bool
	TTL        time.Duration
	// Environment and KeyFingerprint describe the running deployment.
	Environment    string
	KeyFingerprint string
}

// Manager loads and validates sessions for each request.
type Manager struct {
	store Store
	opts  Options
	log   *zap.Logger
}

func NewManager(store Store, opts Options, log *zap.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "tenancy_session"
	}
	return &Manager{store: store, opts: opts, log: log}
}

// Middleware attaches a session to the request. A stored session whose binding
// does not match the request is flushed and replaced by a fresh one.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		domain := model.NormalizeHost(r.Host)
		sess := m.load(ctx, r, domain)

		http.SetCookie(w, &http.Cookie{
			Name:     m.opts.CookieName,
			Value:    sess.id,
			Path:     "/",
			MaxAge:   int(m.opts.TTL / time.Second),
			HttpOnly: true,
			Secure:   m.opts.Secure,
			SameSite: http.SameSiteLaxMode,
		})

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, sess)))

		if !sess.dirty {
			return
		}
		if err := m.store.Save(context.WithoutCancel(ctx), sess.id, sess.values); err != nil {
			m.log.Error("failed to save session", zap.String("domain", domain), zap.Error(err))
		}
	})
}

func (m *Manager) load(ctx context.Context, r *http.Request, domain string) *Session {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return m.fresh(domain)
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return m.fresh(domain)
	}

	values, err := m.store.Load(ctx, cookie.Value)
	if err != nil {
		m.log.Warn("session store unavailable, starting a new session", zap.String("domain", domain), zap.Error(err))
		return m.fresh(domain)
	}
	if values == nil {
		return m.fresh(domain)
	}

	reason := m.mismatch(values, domain)
	if reason == "" {
		// Refresh the expiry on every request.
		return &Session{id: cookie.Value, values: values, recovered: values[keyRecovered] == "1", dirty: true}
	}

	if err := m.store.Delete(ctx, cookie.Value); err != nil {
		m.log.Error("failed to flush incompatible session", zap.Error(err))
	}
	metrics.SessionRecoveries.WithLabelValues(reason).Inc()
	m.log.Warn("incompatible session recovered",
		zap.String("reason", reason),
		zap.String("session_domain", values[keyDomain]),
		zap.String("domain", domain),
		zap.String("path", r.URL.Path),
		zap.String("remote_ip", remoteIP(r)),
	)

	sess := m.fresh(domain)
	sess.recovered = true
	sess.values[keyRecovered] = "1"
	return sess
}

// mismatch names the first binding that differs from the request, or "".
func (m *Manager) mismatch(values map[string]string, domain string) string {
	switch {
	case values[keyDomain] != domain:
		return "domain"
	case values[keyEnvironment] != m.opts.Environment:
		return "environment"
	case values[keyFingerprint] != m.opts.KeyFingerprint:
		return "key"
	}
	return ""
}

func (m *Manager) fresh(domain string) *Session {
	return &Session{
		id: uuid.NewString(),
		values: map[string]string{
			keyDomain:      domain,
			keyEnvironment: m.opts.Environment,
			keyFingerprint: m.opts.KeyFingerprint,
		},
		dirty: true,
	}
}

// Values returns a copy of the user-visible values, without binding keys.
func (s *Session) Values() map[string]string {
	out := maps.Clone(s.values)
	for k := range out {
		if strings.HasPrefix(k, "_") {
			delete(out, k)
		}
	}
	return out
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
