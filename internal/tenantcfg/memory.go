package tenantcfg

import (
	"context"
	"sync"

	"github.com/you/crosspost/internal/domain"
)

// Memory is an in-memory Resolver for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	configs map[string]domain.TenantChannelConfig
	err     error
}

func NewMemory() *Memory {
	return &Memory{configs: map[string]domain.TenantChannelConfig{}}
}

func (m *Memory) Put(cfg domain.TenantChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.TenantID] = cfg
}

// Fail makes every subsequent Resolve return err, simulating an
// unreachable store.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) Resolve(_ context.Context, tenantID string) (domain.TenantChannelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return domain.TenantChannelConfig{}, m.err
	}
	cfg, ok := m.configs[tenantID]
	if !ok {
		return domain.TenantChannelConfig{}, ErrTenantNotFound
	}
	return cfg, nil
}
