package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/value-core/internal/repository"
)

// Keys is an in-memory idempotency key table with the same reserve and finalize rules as Postgres.
type Keys struct {
	mu   sync.Mutex
	rows map[string]repository.IdempotencyKey
}

func NewKeys() *Keys {
	return &Keys{rows: map[string]repository.IdempotencyKey{}}
}

func (k *Keys) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[key]
	if !ok {
		return repository.IdempotencyKey{}, repository.ErrNotFound
	}
	return row, nil
}

func (k *Keys) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.rows[arg.IdempotencyKey]; ok {
		return repository.IdempotencyKey{}, repository.ErrNotFound
	}
	now := time.Now()
	row := repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		InProgress:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	k.rows[arg.IdempotencyKey] = row
	return row, nil
}

func (k *Keys) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[arg.IdempotencyKey]
	if !ok || row.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, repository.ErrNotFound
	}
	row.ResponseStatus = arg.ResponseStatus
	row.ResponseBody = arg.ResponseBody
	row.ContentType = arg.ContentType
	row.InProgress = false
	row.UpdatedAt = time.Now()
	k.rows[arg.IdempotencyKey] = row
	return row, nil
}
