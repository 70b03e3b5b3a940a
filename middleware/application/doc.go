// Package application contém os casos de uso do gateway de acesso: rate limit
// (token bucket e janela fixa), limite de concorrência, ledger de idempotência,
// emissão/verificação de URLs assinadas, verificação de origem e health probe.
//
// Ele depende apenas dos pacotes domain e signing e não conhece net/http.
// Ex.: WindowLimiter.Check(ctx, key, max, window) retorna uma WindowDecision.
package application
