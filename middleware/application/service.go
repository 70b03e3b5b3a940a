package application

import (
	"time"

	"asset-gateway/middleware/domain"
)

// BucketService decide rajadas por chave com token bucket.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type BucketService struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
}

func (s BucketService) Decide(key domain.Key) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}

	lim := s.Store.Get(key)
	if lim == nil {
		return domain.Decision{Allowed: true}
	}
	if lim.Allow() {
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{Allowed: false, RetryAfter: s.RetryAfter}
}
