package idempotency

import (
	"context"
	"errors"
	"time"
)

type downStore struct{}

var errDown = errors.New("store down")

func (downStore) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errDown
}
func (downStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (downStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errDown
}
func (downStore) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (downStore) Delete(context.Context, string) error                     { return errDown }
