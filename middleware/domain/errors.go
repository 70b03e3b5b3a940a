package domain

import "errors"

// Taxonomia de erros. Falhas de segurança (token, origem) sempre fecham;
// falhas de disponibilidade (store) abrem para o caminho best-effort.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrInvalidToken     = errors.New("invalid access token")
	ErrTokenExpired     = errors.New("access token expired")
	ErrTokenSignature   = errors.New("access token signature mismatch")
	ErrStoreUnavailable = errors.New("counter store unavailable")
	ErrRateLimited      = errors.New("rate limited")
	ErrOriginMismatch   = errors.New("origin mismatch")
	ErrAssetNotFound    = errors.New("asset not found")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidInput     = errors.New("invalid input")
	ErrBusy             = errors.New("no download slot available")
)
