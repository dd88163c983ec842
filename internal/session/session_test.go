package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sessionFixture struct {
	mr    *miniredis.Miniredis
	store *RedisStore
	opts  Options
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &sessionFixture{
		mr:    mr,
		store: NewRedisStore(client, time.Hour),
		opts: Options{
			CookieName:     "sid",
			TTL:            time.Hour,
			Environment:    "testing",
			KeyFingerprint: "fp-1",
		},
	}
}

// serve runs one request through the middleware and returns the session the
// handler saw and the cookie that was set.
func (f *sessionFixture) serve(t *testing.T, opts Options, host, cookie string, handle func(*Session)) (*Session, *http.Cookie) {
	t.Helper()
	var seen *Session
	h := NewManager(f.store, opts, zap.NewNop()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		if handle != nil {
			handle(seen)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Host = host
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: opts.CookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.NotNil(t, seen)
	return seen, cookies[0]
}

func TestMiddleware_NewSessionIsBoundToRequest(t *testing.T) {
	f := newSessionFixture(t)

	sess, cookie := f.serve(t, f.opts, "Acme.Example.Test:8080", "", nil)
	assert.Equal(t, "sid", cookie.Name)
	assert.Equal(t, sess.ID(), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, sess.Recovered())

	stored, err := f.store.Load(context.Background(), sess.ID())
	require.NoError(t, err)
	assert.Equal(t, "acme.example.test", stored[keyDomain])
	assert.Equal(t, "testing", stored[keyEnvironment])
	assert.Equal(t, "fp-1", stored[keyFingerprint])
	assert.True(t, f.mr.Exists("session:"+sess.ID()))
}

func TestMiddleware_MatchingSessionIsKept(t *testing.T) {
	f := newSessionFixture(t)

	first, cookie := f.serve(t, f.opts, "acme.example.test", "", func(s *Session) { s.Set("cart", "3") })
	second, _ := f.serve(t, f.opts, "acme.example.test", cookie.Value, nil)

	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, "3", second.Get("cart"))
	assert.Equal(t, map[string]string{"cart": "3"}, second.Values())
	assert.False(t, second.Recovered())
}

func TestMiddleware_RecoversIncompatibleSessions(t *testing.T) {
	cases := map[string]struct {
		host   string
		mutate func(*Options)
	}{
		"other domain":      {host: "beta.example.test"},
		"other environment": {host: "acme.example.test", mutate: func(o *Options) { o.Environment = "staging" }},
		"rotated key":       {host: "acme.example.test", mutate: func(o *Options) { o.KeyFingerprint = "fp-2" }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newSessionFixture(t)
			original, cookie := f.serve(t, f.opts, "acme.example.test", "", func(s *Session) { s.Set("user_id", "7") })

			opts := f.opts
			if tc.mutate != nil {
				tc.mutate(&opts)
			}
			recovered, newCookie := f.serve(t, opts, tc.host, cookie.Value, nil)

			assert.True(t, recovered.Recovered())
			assert.NotEqual(t, original.ID(), recovered.ID())
			assert.Equal(t, recovered.ID(), newCookie.Value)
			assert.Empty(t, recovered.Get("user_id"))
			assert.False(t, f.mr.Exists("session:"+original.ID()), "old session must be flushed")

			stored, err := f.store.Load(context.Background(), recovered.ID())
			require.NoError(t, err)
			assert.Equal(t, "1", stored[keyRecovered])
			assert.Equal(t, opts.KeyFingerprint, stored[keyFingerprint])
		})
	}
}

func TestMiddleware_UnknownOrMalformedCookie(t *testing.T) {
	f := newSessionFixture(t)

	sess, _ := f.serve(t, f.opts, "acme.example.test", "not-a-uuid", nil)
	assert.NotEqual(t, "not-a-uuid", sess.ID())
	assert.False(t, sess.Recovered())

	sess, _ = f.serve(t, f.opts, "acme.example.test", "6f1c1f1e-0000-4000-8000-000000000000", nil)
	assert.NotEqual(t, "6f1c1f1e-0000-4000-8000-000000000000", sess.ID())
	assert.False(t, sess.Recovered())
}

func TestMiddleware_StoreOutageStillServes(t *testing.T) {
	f := newSessionFixture(t)
	_, cookie := f.serve(t, f.opts, "acme.example.test", "", nil)
	f.mr.Close()

	sess, _ := f.serve(t, f.opts, "acme.example.test", cookie.Value, nil)
	assert.NotEqual(t, cookie.Value, sess.ID())
}

func TestRedisStore_SaveRefreshesTTL(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "abc", map[string]string{"a": "1"}))
	f.mr.FastForward(30 * time.Minute)
	require.NoError(t, f.store.Save(ctx, "abc", map[string]string{"b": "2"}))
	f.mr.FastForward(45 * time.Minute)

	vals, err := f.store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, vals)

	require.NoError(t, f.store.Delete(ctx, "abc"))
	vals, err = f.store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, vals)
}
