package application

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/signing"
)

const (
	DefaultURLTTL = 5 * time.Minute
	MaxURLTTL     = time.Hour
)

// Parâmetros de query do link de download.
const (
	ParamResourceID = "resource_id"
	ParamExpires    = "exp"
	ParamSignature  = "sig"
	ParamDisplay    = "disp"

	// links antigos usavam asset_id
	legacyParamResourceID = "asset_id"
)

// URLAuthority emite e verifica links de download assinados.
//
// A assinatura cobre (resource_id, exp, disp); qualquer mudança em um deles invalida o link.
type URLAuthority struct {
	Signer *signing.Signer
	// BaseURL é opcional; vazio gera URLs relativas.
	BaseURL      string
	DownloadPath string
	StablePrefix string
	DefaultTTL   time.Duration
	MaxTTL       time.Duration
	Now          func() time.Time
}

func NewURLAuthority(signer *signing.Signer, baseURL string) *URLAuthority {
	return &URLAuthority{
		Signer:       signer,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		DownloadPath: "/assets/download",
		StablePrefix: "/assets/",
		DefaultTTL:   DefaultURLTTL,
		MaxTTL:       MaxURLTTL,
		Now:          time.Now,
	}
}

// Issue gera o link para o recurso. ttl <= 0 usa o padrão; acima do máximo é truncado.
func (a *URLAuthority) Issue(resourceID string, mode domain.DisplayMode, ttl time.Duration) (domain.SignedURL, error) {
	if resourceID == "" {
		return domain.SignedURL{}, fmt.Errorf("%w: empty resource id", domain.ErrInvalidInput)
	}
	if mode == "" {
		mode = domain.DisplayInline
	}
	if !mode.Valid() {
		return domain.SignedURL{}, fmt.Errorf("%w: display mode %q", domain.ErrInvalidInput, mode)
	}

	exp := a.now().Add(a.clampTTL(ttl)).Truncate(time.Second)
	expStr := strconv.FormatInt(exp.Unix(), 10)

	q := url.Values{}
	q.Set(ParamResourceID, resourceID)
	q.Set(ParamExpires, expStr)
	q.Set(ParamDisplay, string(mode))
	q.Set(ParamSignature, a.Signer.Sign(resourceID, expStr, string(mode)))

	return domain.SignedURL{
		URL:         a.BaseURL + a.DownloadPath + "?" + q.Encode(),
		StableURL:   a.StableURL(resourceID),
		ExpiresAt:   exp,
		DisplayMode: mode,
	}, nil
}

// StableURL é o endereço permanente do recurso, que exige sessão em vez de assinatura.
func (a *URLAuthority) StableURL(resourceID string) string {
	return a.BaseURL + a.StablePrefix + url.PathEscape(resourceID)
}

// Verify reconstrói o token a partir da query e valida assinatura e expiração.
//
// Os erros distinguem formato, assinatura e expiração para log; o chamador deve
// responder com uma única negação genérica.
func (a *URLAuthority) Verify(q url.Values) (domain.AccessToken, error) {
	resourceID := q.Get(ParamResourceID)
	if resourceID == "" {
		resourceID = q.Get(legacyParamResourceID)
	}
	expStr := q.Get(ParamExpires)
	sig := q.Get(ParamSignature)
	mode := domain.DisplayMode(q.Get(ParamDisplay))
	if mode == "" {
		mode = domain.DisplayInline
	}

	if resourceID == "" || expStr == "" || sig == "" || !mode.Valid() {
		return domain.AccessToken{}, fmt.Errorf("%w: missing or malformed parameters", domain.ErrInvalidToken)
	}
	expUnix, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || expUnix <= 0 {
		return domain.AccessToken{}, fmt.Errorf("%w: malformed expiry", domain.ErrInvalidToken)
	}

	if !a.Signer.Verify(sig, resourceID, expStr, string(mode)) {
		return domain.AccessToken{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, domain.ErrTokenSignature)
	}

	tok := domain.AccessToken{
		ResourceID:  resourceID,
		ExpiresAt:   time.Unix(expUnix, 0),
		DisplayMode: mode,
		Signature:   sig,
	}
	// válido até o segundo de expiração, inclusive
	if a.now().Unix() > expUnix {
		return domain.AccessToken{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, domain.ErrTokenExpired)
	}
	return tok, nil
}

// VerifyURL aceita a URL completa ou só o path com query.
func (a *URLAuthority) VerifyURL(raw string) (domain.AccessToken, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return a.Verify(u.Query())
}

func (a *URLAuthority) clampTTL(ttl time.Duration) time.Duration {
	def := a.DefaultTTL
	if def <= 0 {
		def = DefaultURLTTL
	}
	max := a.MaxTTL
	if max <= 0 {
		max = MaxURLTTL
	}
	if ttl <= 0 {
		ttl = def
	}
	if ttl > max {
		ttl = max
	}
	return ttl
}

func (a *URLAuthority) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
