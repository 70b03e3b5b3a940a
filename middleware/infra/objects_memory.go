package infra

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"asset-gateway/middleware/domain"
)

// MemoryObjects guarda bytes em memória (example-server e testes).
// Não implementa Presigner: o resolver sempre transmite os bytes.
type MemoryObjects struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objects: make(map[string]memObject)}
}

func (m *MemoryObjects) Put(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), contentType: contentType, modified: time.Now()}
}

func (m *MemoryObjects) GetObject(_ context.Context, key string) (domain.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return domain.Object{}, domain.ErrAssetNotFound
	}
	return domain.Object{
		Body:         io.NopCloser(bytes.NewReader(o.data)),
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		LastModified: o.modified,
	}, nil
}
