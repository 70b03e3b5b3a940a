package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"asset-gateway/middleware/domain"
)

// AssetAccess liga autorização (dono ou admin) à emissão de links.
type AssetAccess struct {
	Assets  domain.AssetRepository
	Objects domain.ObjectStore
	URLs    *URLAuthority
	Logger  *slog.Logger
}

// SignRequest é o pedido de link para um recurso.
type SignRequest struct {
	ResourceID string
	Mode       domain.DisplayMode
	TTL        time.Duration
	// Direct pede também a URL pré-assinada do object storage, quando houver.
	Direct bool
}

// Authorize confere que o recurso existe e que o principal pode vê-lo.
func (s *AssetAccess) Authorize(ctx context.Context, p domain.Principal, resourceID string) (domain.Asset, error) {
	if p.ID == "" {
		return domain.Asset{}, domain.ErrUnauthenticated
	}
	asset, err := s.Assets.GetAsset(ctx, resourceID)
	if err != nil {
		return domain.Asset{}, err
	}
	if !p.CanAccess(asset) {
		s.logger().WarnContext(ctx, "asset access denied",
			"resource_id", resourceID,
			"principal", p.ID,
		)
		return domain.Asset{}, domain.ErrForbidden
	}
	return asset, nil
}

// SignForPrincipal emite o link assinado para um principal autorizado.
func (s *AssetAccess) SignForPrincipal(ctx context.Context, p domain.Principal, req SignRequest) (domain.SignedURL, error) {
	if req.ResourceID == "" {
		return domain.SignedURL{}, fmt.Errorf("%w: resource_id is required", domain.ErrInvalidInput)
	}
	if req.Mode != "" && !req.Mode.Valid() {
		return domain.SignedURL{}, fmt.Errorf("%w: display mode %q", domain.ErrInvalidInput, req.Mode)
	}
	asset, err := s.Authorize(ctx, p, req.ResourceID)
	if err != nil {
		return domain.SignedURL{}, err
	}

	signed, err := s.URLs.Issue(asset.ID, req.Mode, req.TTL)
	if err != nil {
		return domain.SignedURL{}, err
	}
	if req.Direct {
		// a URL direta é um extra; sem ela o link assinado continua valendo
		direct, err := s.DirectURL(ctx, asset, signed.DisplayMode, signed.ExpiresAt.Sub(s.URLs.now()))
		if err != nil && !errors.Is(err, errors.ErrUnsupported) {
			s.logger().WarnContext(ctx, "presign failed", "resource_id", asset.ID, "error", err)
		}
		signed.DirectURL = direct
	}
	return signed, nil
}

// Resolve busca o recurso de um token já verificado.
func (s *AssetAccess) Resolve(ctx context.Context, tok domain.AccessToken) (domain.Asset, error) {
	return s.Assets.GetAsset(ctx, tok.ResourceID)
}

// DirectURL pede ao backend uma URL temporária nativa. Retorna errors.ErrUnsupported
// quando o backend não sabe pré-assinar.
func (s *AssetAccess) DirectURL(ctx context.Context, asset domain.Asset, mode domain.DisplayMode, ttl time.Duration) (string, error) {
	p, ok := s.Objects.(domain.Presigner)
	if !ok || asset.StorageKey == "" {
		return "", errors.ErrUnsupported
	}
	return p.PresignGet(ctx, asset.StorageKey, domain.PresignOptions{
		TTL:                ttl,
		ContentDisposition: ContentDisposition(mode, asset.Filename),
		ContentType:        asset.ContentType,
	})
}

// Open abre os bytes do recurso.
func (s *AssetAccess) Open(ctx context.Context, asset domain.Asset) (domain.Object, error) {
	if s.Objects == nil || asset.StorageKey == "" {
		return domain.Object{}, domain.ErrAssetNotFound
	}
	return s.Objects.GetObject(ctx, asset.StorageKey)
}

// ContentDisposition monta o header com o nome de arquivo escapado. Nomes com
// caracteres de controle ou separadores de path são reduzidos ao nome base.
func ContentDisposition(mode domain.DisplayMode, filename string) string {
	if !mode.Valid() {
		mode = domain.DisplayInline
	}
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" {
		return string(mode)
	}
	if v := mime.FormatMediaType(string(mode), map[string]string{"filename": name}); v != "" {
		return v
	}
	return string(mode)
}

func (s *AssetAccess) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
