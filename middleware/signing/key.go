package signing

import (
	"fmt"
	"log/slog"

	"asset-gateway/middleware/domain"
)

// devFallbackSecret só existe para desenvolvimento local.
const devFallbackSecret = "dev-insecure-secret"

// Key é o segredo do servidor, carregado uma vez no startup.
type Key struct {
	secret   []byte
	insecure bool
}

// LoadKey carrega a chave de assinatura.
//
// Sem segredo em produção: erro (fail closed). Fora de produção: chave fixa
// insegura, com warning no log.
func LoadKey(secret string, production bool, logger *slog.Logger) (Key, error) {
	if secret != "" {
		return Key{secret: []byte(secret)}, nil
	}
	if production {
		return Key{}, fmt.Errorf("%w: URL_SIGNING_SECRET is required in production", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("URL_SIGNING_SECRET is not set; using insecure development key")
	return Key{secret: []byte(devFallbackSecret), insecure: true}, nil
}
