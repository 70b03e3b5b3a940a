package application

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"asset-gateway/middleware/domain"
)

// OriginGuard bloqueia escritas cross-site comparando Origin (ou Referer) com a
// origem canônica da aplicação.
type OriginGuard struct {
	Canonical string
	// RequireHeader nega escritas sem Origin e sem Referer.
	// Desligado, essas requisições passam (clientes não-browser).
	RequireHeader bool
}

func NewOriginGuard(baseURL string, requireHeader bool) (*OriginGuard, error) {
	canonical, ok := normalizeOrigin(baseURL, false)
	if !ok {
		return nil, fmt.Errorf("%w: invalid base url %q", domain.ErrConfiguration, baseURL)
	}
	return &OriginGuard{Canonical: canonical, RequireHeader: requireHeader}, nil
}

// SafeMethod reporta os métodos que nunca passam pelo guard.
func SafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Check retorna ErrOriginMismatch quando a escrita não vem da origem canônica.
// Origin tem precedência; Referer só é consultado quando Origin está ausente.
func (g *OriginGuard) Check(method, origin, referer string) error {
	if SafeMethod(method) {
		return nil
	}
	if origin != "" {
		// "null" (iframe sandbox, file://) não é uma origem e cai aqui
		got, ok := normalizeOrigin(origin, true)
		if !ok || got != g.Canonical {
			return fmt.Errorf("%w: origin %q", domain.ErrOriginMismatch, origin)
		}
		return nil
	}
	if referer != "" {
		got, ok := normalizeOrigin(referer, false)
		if !ok || got != g.Canonical {
			return fmt.Errorf("%w: referer origin %q", domain.ErrOriginMismatch, got)
		}
		return nil
	}
	if g.RequireHeader {
		return fmt.Errorf("%w: no origin or referer", domain.ErrOriginMismatch)
	}
	return nil
}

// normalizeOrigin reduz a URL a scheme://host[:port] em minúsculas, sem porta padrão.
// Com exact=true, qualquer coisa além da origem (path, query, userinfo) invalida.
func normalizeOrigin(raw string, exact bool) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	if exact && (u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "") {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, true
}
