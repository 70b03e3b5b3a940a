package ratelimit

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"asset-gateway/middleware/domain"
)

// Budget é o orçamento de uma ação: Max requisições por Window.
type Budget struct {
	Max    int64
	Window time.Duration
}

// Budgets mapeia escopo (ação) para orçamento.
type Budgets map[string]Budget

// DefaultBudgets são os limites por minuto das ações caras.
func DefaultBudgets() Budgets {
	return Budgets{
		"sign":      {Max: 30, Window: time.Minute},
		"generate":  {Max: 15, Window: time.Minute},
		"bg_remove": {Max: 10, Window: time.Minute},
	}
}

// ParseBudgets lê "sign=30,generate=15" (janela comum) ou "sign=30/1m" (janela própria).
func ParseBudgets(raw string, window time.Duration) (Budgets, error) {
	out := Budgets{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		scope, value, ok := strings.Cut(item, "=")
		scope = strings.TrimSpace(scope)
		if !ok || scope == "" {
			return nil, fmt.Errorf("%w: rate limit entry %q", domain.ErrConfiguration, item)
		}

		b := Budget{Window: window}
		maxStr, winStr, hasWin := strings.Cut(strings.TrimSpace(value), "/")
		max, err := strconv.ParseInt(strings.TrimSpace(maxStr), 10, 64)
		if err != nil || max <= 0 {
			return nil, fmt.Errorf("%w: rate limit for %q must be a positive integer", domain.ErrConfiguration, scope)
		}
		b.Max = max
		if hasWin {
			d, err := time.ParseDuration(strings.TrimSpace(winStr))
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("%w: rate window for %q", domain.ErrConfiguration, scope)
			}
			b.Window = d
		}
		if b.Window <= 0 {
			b.Window = time.Minute
		}
		out[scope] = b
	}
	return out, nil
}

// Scopes retorna os escopos em ordem estável.
func (b Budgets) Scopes() []string {
	out := make([]string, 0, len(b))
	for s := range b {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// RouteScope liga (método, prefixo de path) a um escopo. Method vazio vale para qualquer método.
type RouteScope struct {
	Method string
	Prefix string
	Scope  string
}

type RouteScopes []RouteScope

// ParseRoutes lê "POST /api/generate=generate,/api/remove-bg=bg_remove".
func ParseRoutes(raw string) (RouteScopes, error) {
	var out RouteScopes
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		route, scope, ok := strings.Cut(item, "=")
		scope = strings.TrimSpace(scope)
		if !ok || scope == "" {
			return nil, fmt.Errorf("%w: rate route %q", domain.ErrConfiguration, item)
		}
		rs := RouteScope{Scope: scope}
		fields := strings.Fields(route)
		switch len(fields) {
		case 1:
			rs.Prefix = fields[0]
		case 2:
			rs.Method, rs.Prefix = strings.ToUpper(fields[0]), fields[1]
		default:
			return nil, fmt.Errorf("%w: rate route %q", domain.ErrConfiguration, item)
		}
		if !strings.HasPrefix(rs.Prefix, "/") {
			return nil, fmt.Errorf("%w: rate route path %q must start with /", domain.ErrConfiguration, rs.Prefix)
		}
		out = append(out, rs)
	}
	// prefixo mais longo primeiro
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].Prefix) > len(out[j].Prefix) })
	return out, nil
}

// Match retorna o escopo da requisição, ou "" se nenhuma rota casar.
func (rs RouteScopes) Match(r *http.Request) string {
	for _, route := range rs {
		if route.Method != "" && route.Method != r.Method {
			continue
		}
		if r.URL.Path == route.Prefix || strings.HasPrefix(r.URL.Path, strings.TrimSuffix(route.Prefix, "/")+"/") {
			return route.Scope
		}
	}
	return ""
}
