package application

import (
	"context"
	"time"

	"asset-gateway/middleware/domain"
)

// DownloadSlots limita quantos downloads transmitem bytes ao mesmo tempo.
// Não sabe nada sobre HTTP; só decide se há vaga dentro do prazo.
type DownloadSlots struct {
	Pool domain.SlotPool
	// Wait <= 0 espera até ctx cancelar.
	Wait time.Duration
}

// Acquire devolve o release (chamar exatamente uma vez) ou ErrBusy.
// Cancelamento do chamador volta como ctx.Err(), não como ErrBusy.
func (s DownloadSlots) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.Wait > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.Wait)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, domain.ErrBusy
}
