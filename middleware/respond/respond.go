// Package respond traduz erros do domínio para status HTTP e corpo JSON mínimo.
//
// Todos os adapters HTTP escrevem erro por aqui, então a mensagem exposta é sempre
// genérica: o motivo detalhado fica no log.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"asset-gateway/middleware/domain"
)

type ErrorBody struct {
	Error string `json:"error"`
}

// JSON escreve v com o status dado.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error escreve {"error": msg}.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorBody{Error: msg})
}

// StatusFor mapeia o erro para status e mensagem pública.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrOriginMismatch):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrAssetNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, domain.ErrBusy):
		return http.StatusServiceUnavailable, "service busy"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Err escreve o erro usando StatusFor.
func Err(w http.ResponseWriter, err error) {
	status, msg := StatusFor(err)
	Error(w, status, msg)
}

// TooManyRequests escreve 429 com Retry-After em segundos inteiros (mínimo 1).
func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	Error(w, http.StatusTooManyRequests, "too many requests")
}
