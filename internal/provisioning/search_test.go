package provisioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenancy/internal/model"
)

type meiliStub struct {
	mu      sync.Mutex
	indexes map[string]bool
	creates []string
	auth    []string
}

func (s *meiliStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/indexes/"):
		uid := strings.TrimPrefix(r.URL.Path, "/indexes/")
		if !s.indexes[uid] {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": "index_not_found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"uid": uid})
	case r.Method == http.MethodPost && r.URL.Path == "/indexes":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.creates = append(s.creates, body["uid"])
		s.indexes[body["uid"]] = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"taskUid": len(s.creates)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestMeiliIndexManager_CreatesMissingIndexes(t *testing.T) {
	stub := &meiliStub{indexes: map[string]bool{"tenant_5_campaigns": true}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	m := NewMeiliIndexManager(srv.URL, "master-key", []string{"campaigns", "donations"}, time.Second, zap.NewNop())
	uids, err := m.CreateTenantIndexes(context.Background(), &model.Tenant{ID: 5})

	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_5_campaigns", "tenant_5_donations"}, uids)
	assert.Equal(t, []string{"tenant_5_donations"}, stub.creates)
	for _, h := range stub.auth {
		assert.Equal(t, "Bearer master-key", h)
	}

	// Second run finds everything and creates nothing.
	_, err = m.CreateTenantIndexes(context.Background(), &model.Tenant{ID: 5})
	require.NoError(t, err)
	assert.Len(t, stub.creates, 1)
}

func TestMeiliIndexManager_AlreadyExistsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"index exists","code":"index_already_exists"}`))
	}))
	defer srv.Close()

	m := NewMeiliIndexManager(srv.URL, "", []string{"campaigns"}, time.Second, zap.NewNop())
	uids, err := m.CreateTenantIndexes(context.Background(), &model.Tenant{ID: 1})

	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_1_campaigns"}, uids)
}

func TestMeiliIndexManager_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMeiliIndexManager(srv.URL, "", []string{"campaigns"}, time.Second, zap.NewNop())
	_, err := m.CreateTenantIndexes(context.Background(), &model.Tenant{ID: 1})

	assert.ErrorContains(t, err, "unexpected status 503")
}
