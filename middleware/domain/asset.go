package domain

import (
	"context"
	"io"
	"time"
)

// Asset é o registro de propriedade (externo, somente leitura para este core).
type Asset struct {
	ID               string
	OwnerPrincipalID string
	StorageKey       string
	ContentType      string
	Filename         string
	CreatedAt        time.Time
}

// Principal é a identidade já autenticada upstream.
type Principal struct {
	ID    string
	Admin bool
}

// CanAccess reporta se o principal é dono do asset ou administrador.
func (p Principal) CanAccess(a Asset) bool {
	if p.ID == "" {
		return false
	}
	return p.Admin || p.ID == a.OwnerPrincipalID
}

// AssetRepository responde "esse objeto existe e de quem é".
// Retorna ErrAssetNotFound quando não existe.
type AssetRepository interface {
	GetAsset(ctx context.Context, id string) (Asset, error)
}

type Object struct {
	Body         io.ReadCloser
	Size         int64
	ContentType  string
	LastModified time.Time
}

type PresignOptions struct {
	TTL                time.Duration
	ContentDisposition string
	ContentType        string
}

// ObjectStore responde "quais são os bytes e o content-type".
type ObjectStore interface {
	GetObject(ctx context.Context, key string) (Object, error)
}

// Presigner é opcional: backends que conseguem gerar URL temporária nativa.
type Presigner interface {
	PresignGet(ctx context.Context, key string, opts PresignOptions) (string, error)
}
