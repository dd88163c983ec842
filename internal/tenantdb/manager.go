package tenantdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tenancy/internal/model"
	"tenancy/internal/secret"
)

var ErrNoCredentials = errors.New("tenantdb: tenant has no database credentials")

type Settings struct {
	Host        string
	Port        int
	SSLMode     string
	MaxConns    int32
	IdleTimeout time.Duration
}

type poolEntry struct {
	pool        *pgxpool.Pool
	fingerprint string
}

// Manager keeps one pool per tenant. A pool is purged and rebuilt whenever the
// tenant's database name or credentials change, or when it stops handing out
// connections.
type Manager struct {
	settings Settings
	box      *secret.Box
	log      *zap.Logger

	mu    sync.Mutex
	pools map[int64]*poolEntry
}

func NewManager(settings Settings, box *secret.Box, log *zap.Logger) *Manager {
	return &Manager{
		settings: settings,
		box:      box,
		log:      log,
		pools:    make(map[int64]*poolEntry),
	}
}

// Connect returns the tenant's pool, creating it on first use.
func (m *Manager) Connect(ctx context.Context, t *model.Tenant) (Conn, error) {
	return m.pool(ctx, t)
}

// Acquire binds one connection for the duration of a request. A failed acquire
// purges the pool and reconnects once before giving up.
func (m *Manager) Acquire(ctx context.Context, t *model.Tenant) (Handle, error) {
	pool, err := m.pool(ctx, t)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err == nil {
		return conn, nil
	}

	m.log.Warn("tenant pool acquire failed, reconnecting",
		zap.Int64("tenant_id", t.ID), zap.Error(err))
	m.Purge(t.ID)
	if pool, err = m.pool(ctx, t); err != nil {
		return nil, err
	}
	conn, err = pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire tenant %d connection: %w", t.ID, err)
	}
	return conn, nil
}

// Purge closes and forgets the tenant's pool.
func (m *Manager) Purge(tenantID int64) {
	m.mu.Lock()
	entry, ok := m.pools[tenantID]
	delete(m.pools, tenantID)
	m.mu.Unlock()
	if ok {
		entry.pool.Close()
	}
}

func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[int64]*poolEntry)
	m.mu.Unlock()
	for _, entry := range pools {
		entry.pool.Close()
	}
}

func (m *Manager) pool(ctx context.Context, t *model.Tenant) (*pgxpool.Pool, error) {
	fp := fingerprint(t)

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.pools[t.ID]; ok {
		if entry.fingerprint == fp {
			return entry.pool, nil
		}
		entry.pool.Close()
		delete(m.pools, t.ID)
	}

	cfg, err := m.PoolConfig(t)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect tenant %d: %w", t.ID, err)
	}
	m.pools[t.ID] = &poolEntry{pool: pool, fingerprint: fp}
	m.log.Debug("tenant pool opened", zap.Int64("tenant_id", t.ID), zap.String("database", t.DatabaseName()))
	return pool, nil
}

// PoolConfig derives the pgx pool configuration from the tenant's stored credentials.
func (m *Manager) PoolConfig(t *model.Tenant) (*pgxpool.Config, error) {
	if t.DatabaseName() == "" || !t.HasCredentials() {
		return nil, ErrNoCredentials
	}
	user, err := m.box.OpenString(t.DatabaseUser)
	if err != nil {
		return nil, fmt.Errorf("decrypt database user: %w", err)
	}
	password, err := m.box.OpenString(t.DatabasePassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt database password: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(fmt.Sprintf("sslmode=%s", m.settings.SSLMode))
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Host = m.settings.Host
	cfg.ConnConfig.Port = uint16(m.settings.Port)
	cfg.ConnConfig.Database = t.DatabaseName()
	cfg.ConnConfig.User = user
	cfg.ConnConfig.Password = password
	if m.settings.MaxConns > 0 {
		cfg.MaxConns = m.settings.MaxConns
	}
	if m.settings.IdleTimeout > 0 {
		cfg.MaxConnIdleTime = m.settings.IdleTimeout
	}
	return cfg, nil
}

func fingerprint(t *model.Tenant) string {
	h := sha256.New()
	h.Write([]byte(t.DatabaseName()))
	h.Write([]byte{0})
	h.Write(t.DatabaseUser)
	h.Write([]byte{0})
	h.Write(t.DatabasePassword)
	return hex.EncodeToString(h.Sum(nil))
}
