package infra

import (
	"context"
	"sync"

	"asset-gateway/middleware/domain"
)

// MemoryAssets é um repositório em memória para o example-server e testes.
type MemoryAssets struct {
	mu     sync.RWMutex
	assets map[string]domain.Asset
}

func NewMemoryAssets(assets ...domain.Asset) *MemoryAssets {
	m := &MemoryAssets{assets: make(map[string]domain.Asset, len(assets))}
	for _, a := range assets {
		m.assets[a.ID] = a
	}
	return m
}

func (m *MemoryAssets) Put(a domain.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
}

func (m *MemoryAssets) GetAsset(_ context.Context, id string) (domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return domain.Asset{}, domain.ErrAssetNotFound
	}
	return a, nil
}
