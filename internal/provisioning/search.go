package provisioning

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"tenancy/internal/model"
)

// MeiliIndexManager creates tenant indexes on a Meilisearch server. Index uids are
// namespaced as {tenant namespace}_{index}.
type MeiliIndexManager struct {
	client  *resty.Client
	indexes []string
	log     *zap.Logger
}

func NewMeiliIndexManager(baseURL, apiKey string, indexes []string, timeout time.Duration, log *zap.Logger) *MeiliIndexManager {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &MeiliIndexManager{client: client, indexes: indexes, log: log}
}

type meiliError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// CreateTenantIndexes creates each missing index and leaves existing ones alone.
func (m *MeiliIndexManager) CreateTenantIndexes(ctx context.Context, t *model.Tenant) ([]string, error) {
	var uids []string
	for _, index := range m.indexes {
		uid := t.SearchNamespace() + "_" + index

		resp, err := m.client.R().SetContext(ctx).SetPathParam("uid", uid).Get("/indexes/{uid}")
		if err != nil {
			return uids, fmt.Errorf("lookup index %s: %w", uid, err)
		}
		if resp.StatusCode() == http.StatusOK {
			uids = append(uids, uid)
			continue
		}
		if resp.StatusCode() != http.StatusNotFound {
			return uids, fmt.Errorf("lookup index %s: unexpected status %d", uid, resp.StatusCode())
		}

		var apiErr meiliError
		resp, err = m.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"uid": uid, "primaryKey": "id"}).
			SetError(&apiErr).
			Post("/indexes")
		if err != nil {
			return uids, fmt.Errorf("create index %s: %w", uid, err)
		}
		if resp.IsError() && apiErr.Code != "index_already_exists" {
			return uids, fmt.Errorf("create index %s: %d %s", uid, resp.StatusCode(), apiErr.Message)
		}
		m.log.Debug("search index requested", zap.Int64("tenant_id", t.ID), zap.String("index", uid))
		uids = append(uids, uid)
	}
	return uids, nil
}
