// Package principal lê a identidade autenticada upstream e a coloca no contexto.
//
// A autenticação em si não acontece aqui: o gateway confia nos headers que o proxy
// de autenticação injeta (X-Principal-Id / X-Principal-Role por padrão). Sem
// TrustedPeers, o gateway precisa ficar atrás desse proxy; com TrustedPeers, os
// headers vindos de qualquer outro endereço são descartados.
package principal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/respond"
)

const (
	DefaultIDHeader   = "X-Principal-Id"
	DefaultRoleHeader = "X-Principal-Role"
	AdminRole         = "admin"
)

type ctxKey struct{}

// Extractor monta o Principal a partir dos headers.
type Extractor struct {
	IDHeader   string
	RoleHeader string
	// TrustedPeers restringe quem pode afirmar identidade; vazio aceita qualquer peer.
	TrustedPeers []netip.Prefix
}

func (e Extractor) headers() (string, string) {
	idHeader := e.IDHeader
	if idHeader == "" {
		idHeader = DefaultIDHeader
	}
	roleHeader := e.RoleHeader
	if roleHeader == "" {
		roleHeader = DefaultRoleHeader
	}
	return idHeader, roleHeader
}

// Trusted diz se o peer direto (RemoteAddr) pode injetar os headers de identidade.
func (e Extractor) Trusted(r *http.Request) bool {
	if len(e.TrustedPeers) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range e.TrustedPeers {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (e Extractor) FromRequest(r *http.Request) domain.Principal {
	if !e.Trusted(r) {
		return domain.Principal{}
	}
	idHeader, roleHeader := e.headers()

	p := domain.Principal{ID: strings.TrimSpace(r.Header.Get(idHeader))}
	if p.ID == "" {
		return domain.Principal{}
	}
	for _, role := range strings.Split(r.Header.Get(roleHeader), ",") {
		if strings.EqualFold(strings.TrimSpace(role), AdminRole) {
			p.Admin = true
		}
	}
	return p
}

// Middleware coloca o Principal (possivelmente vazio) no contexto. Headers de
// identidade vindos de peer não confiável são removidos, para não chegarem ao upstream.
func Middleware(e Extractor) func(next http.Handler) http.Handler {
	idHeader, roleHeader := e.headers()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !e.Trusted(r) {
				r.Header.Del(idHeader)
				r.Header.Del(roleHeader)
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), e.FromRequest(r))))
		})
	}
}

// Require responde 401 quando não há principal no contexto.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := FromContext(r.Context()); !ok || p.ID == "" {
			respond.Err(w, domain.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext retorna ok=false quando não há principal autenticado.
func FromContext(ctx context.Context) (domain.Principal, bool) {
	p, _ := ctx.Value(ctxKey{}).(domain.Principal)
	return p, p.ID != ""
}

// ParsePeers lê uma lista de IPs ou CIDRs separados por vírgula.
func ParsePeers(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			addr, err := netip.ParseAddr(item)
			if err != nil {
				return nil, fmt.Errorf("%w: trusted peer %q", domain.ErrConfiguration, item)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(item)
		if err != nil {
			return nil, fmt.Errorf("%w: trusted peer %q", domain.ErrConfiguration, item)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
