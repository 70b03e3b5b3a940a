package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/respond"

	"github.com/go-chi/chi/v5"
)

const cacheControl = "private, max-age=86400"

type signRequest struct {
	AssetID     string `json:"asset_id"`
	ResourceID  string `json:"resource_id"`
	DisplayMode string `json:"display_mode"`
	ExpiresIn   int64  `json:"expires_in"`
}

type signResponse struct {
	URL         string    `json:"url"`
	StableURL   string    `json:"stable_url"`
	DirectURL   string    `json:"direct_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	DisplayMode string    `json:"display_mode"`
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req); err != nil {
		respond.Err(w, domain.ErrInvalidInput)
		return
	}
	if req.ResourceID == "" {
		req.ResourceID = req.AssetID
	}
	if req.ExpiresIn < 0 {
		respond.Err(w, domain.ErrInvalidInput)
		return
	}

	p, _ := principal.FromContext(r.Context())
	signed, err := h.cfg.Access.SignForPrincipal(r.Context(), p, application.SignRequest{
		ResourceID: req.ResourceID,
		Mode:       domain.DisplayMode(req.DisplayMode),
		TTL:        time.Duration(req.ExpiresIn) * time.Second,
		Direct:     true,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, signResponse{
		URL:         signed.URL,
		StableURL:   signed.StableURL,
		DirectURL:   signed.DirectURL,
		ExpiresAt:   signed.ExpiresAt.UTC(),
		DisplayMode: string(signed.DisplayMode),
	})
}

// download resolve o link assinado. Qualquer falha de token vira o mesmo 403;
// o motivo só aparece no log.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	tok, err := h.cfg.Access.URLs.Verify(r.URL.Query())
	h.record(r, domain.GuardToken, err == nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "signed url rejected",
			"request_id", RequestIDFromContext(r.Context()),
			"reason", tokenFailure(err),
			"resource_id", r.URL.Query().Get("resource_id"),
		)
		respond.Err(w, domain.ErrInvalidToken)
		return
	}

	asset, err := h.cfg.Access.Resolve(r.Context(), tok)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ttl := time.Until(tok.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	h.serve(w, r, asset, tok.DisplayMode, ttl)
}

// stable é o endereço permanente: exige sessão e confere dono/admin a cada acesso.
func (h *Handler) stable(w http.ResponseWriter, r *http.Request) {
	mode := domain.DisplayMode(r.URL.Query().Get("disp"))
	if mode == "" {
		mode = domain.DisplayInline
	}
	if !mode.Valid() {
		respond.Err(w, domain.ErrInvalidInput)
		return
	}

	p, _ := principal.FromContext(r.Context())
	asset, err := h.cfg.Access.Authorize(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ttl := h.cfg.Access.URLs.DefaultTTL
	if ttl <= 0 {
		ttl = application.DefaultURLTTL
	}
	h.serve(w, r, asset, mode, ttl)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, asset domain.Asset, mode domain.DisplayMode, ttl time.Duration) {
	if h.cfg.Redirect {
		direct, err := h.cfg.Access.DirectURL(r.Context(), asset, mode, ttl)
		switch {
		case err == nil:
			w.Header().Set("Cache-Control", "private, no-store")
			http.Redirect(w, r, direct, http.StatusFound)
			return
		case !errors.Is(err, errors.ErrUnsupported):
			h.logger.WarnContext(r.Context(), "presign failed, streaming instead",
				"resource_id", asset.ID,
				"error", err,
			)
		}
	}

	release, err := h.slots.Acquire(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			w.Header().Set("Retry-After", "1")
			respond.Err(w, err)
		}
		return
	}
	defer release()

	obj, err := h.cfg.Access.Open(r.Context(), asset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer obj.Body.Close()

	contentType := asset.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr := w.Header()
	hdr.Set("Content-Type", contentType)
	hdr.Set("Content-Disposition", application.ContentDisposition(mode, asset.Filename))
	hdr.Set("Cache-Control", cacheControl)
	hdr.Set("X-Content-Type-Options", "nosniff")

	// objetos grandes (ou de tamanho desconhecido) vão direto, sem ETag
	if obj.Size < 0 || obj.Size > h.cfg.MaxBufferBytes {
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, obj.Body); err != nil {
			h.logger.WarnContext(r.Context(), "stream interrupted", "resource_id", asset.ID, "error", err)
		}
		return
	}

	data, err := io.ReadAll(io.LimitReader(obj.Body, h.cfg.MaxBufferBytes+1))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if int64(len(data)) > h.cfg.MaxBufferBytes {
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, io.MultiReader(bytes.NewReader(data), obj.Body))
		return
	}

	sum := sha256.Sum256(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	hdr.Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		hdr.Del("Content-Type")
		hdr.Del("Content-Disposition")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	hdr.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type healthResponse struct {
	application.HealthReport
	Signing healthSigning           `json:"signing"`
	Budgets map[string]healthBudget `json:"budgets,omitempty"`
}

type healthSigning struct {
	Configured bool `json:"configured"`
}

type healthBudget struct {
	Max           int64 `json:"max"`
	WindowSeconds int64 `json:"window_seconds"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse
	if h.cfg.Health != nil {
		resp.HealthReport = h.cfg.Health.Run(r.Context())
	}
	if h.cfg.Access != nil && h.cfg.Access.URLs != nil && h.cfg.Access.URLs.Signer != nil {
		resp.Signing.Configured = !h.cfg.Access.URLs.Signer.Insecure()
	}
	if len(h.cfg.Budgets) > 0 {
		resp.Budgets = make(map[string]healthBudget, len(h.cfg.Budgets))
		for scope, b := range h.cfg.Budgets {
			resp.Budgets[scope] = healthBudget{Max: b.Max, WindowSeconds: int64(b.Window / time.Second)}
		}
	}

	status := http.StatusOK
	if !resp.OK() {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	respond.JSON(w, status, resp)
}

// fail loga erros inesperados; os esperados só viram status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := respond.StatusFor(err)
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	respond.Err(w, err)
}

func (h *Handler) record(r *http.Request, guard string, allowed bool) {
	if h.cfg.Stats == nil {
		return
	}
	_ = h.cfg.Stats.Record(r.Context(), domain.StatsEvent{
		Guard:   guard,
		Allowed: allowed,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
}

func tokenFailure(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, domain.ErrTokenSignature):
		return "signature"
	default:
		return "malformed"
	}
}

// etagMatches aplica a comparação fraca de If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
