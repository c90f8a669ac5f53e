// Package idempotency replays the stored response of a mutating request when a client
// retries it under the same Idempotency-Key. Postgres holds the authoritative key row;
// redis caches completed responses in front of it.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/value-core/internal/repository"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	SourceCache    = "redis"
	SourceDatabase = "postgres"

	defaultPollInterval = 50 * time.Millisecond
)

// Request identifies one client attempt: the caller-scoped key plus a fingerprint of
// what was sent under it.
type Request struct {
	Key    string
	Hash   string
	Method string
	Path   string
}

// NewRequest fingerprints method, path and body under key.
func NewRequest(key, method, path string, body []byte) Request {
	return Request{Key: key, Hash: Fingerprint(method, path, body), Method: method, Path: path}
}

// Fingerprint is the sha256 of method, path and body.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Response is what the wrapped handler produced for the first attempt.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
}

// Record is a completed response and where it was read from.
type Record struct {
	Key  string
	Hash string
	Response
	Source string
}

// Keys is the durable key table. *repository.Queries satisfies it.
type Keys interface {
	GetIdempotencyKey(ctx context.Context, key string) (repository.IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error)
	FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error)
}

type Store struct {
	keys         Keys
	cache        *responseCache
	pollInterval time.Duration
}

// NewStore wires the durable key table behind an optional redis cache. A nil
// client disables caching.
func NewStore(client redis.Cmdable, keys Keys, ttl time.Duration) *Store {
	return &Store{
		keys:         keys,
		cache:        newResponseCache(client, ttl),
		pollInterval: defaultPollInterval,
	}
}

// Begin claims req.Key for this attempt. It returns reserved=true when the caller
// owns the key and must Complete it, or a Record to replay when an earlier attempt
// already finished. ErrInProgress means another attempt holds the key.
func (s *Store) Begin(ctx context.Context, req Request) (*Record, bool, error) {
	rec, err := s.Lookup(ctx, req)
	switch {
	case err == nil:
		return rec, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	_, err = s.keys.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: req.Key,
		RequestHash:    req.Hash,
		Method:         req.Method,
		Path:           req.Path,
	})
	switch {
	case err == nil:
		return nil, true, nil
	case errors.Is(err, repository.ErrNotFound):
		// Lost the insert race to a concurrent attempt.
		return nil, false, ErrInProgress
	default:
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Lookup returns the completed response for req, checking the cache before the key table.
func (s *Store) Lookup(ctx context.Context, req Request) (*Record, error) {
	if rec, ok := s.cache.get(ctx, req.Key); ok {
		if rec.Hash != req.Hash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.keys.GetIdempotencyKey(ctx, req.Key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != req.Hash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}

	rec := recordFromRow(row)
	s.cache.put(ctx, rec)
	return rec, nil
}

// Complete stores resp as the outcome of the reserved req.
func (s *Store) Complete(ctx context.Context, req Request, resp Response) (*Record, error) {
	row, err := s.keys.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		IdempotencyKey: req.Key,
		RequestHash:    req.Hash,
		ResponseStatus: int32(resp.Status),
		ResponseBody:   resp.Body,
		ContentType:    resp.ContentType,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}

	rec := recordFromRow(row)
	s.cache.put(ctx, rec)
	return rec, nil
}

// Await polls until the attempt holding req.Key completes or ctx ends.
func (s *Store) Await(ctx context.Context, req Request) (*Record, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, req)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func recordFromRow(row repository.IdempotencyKey) *Record {
	return &Record{
		Key:  row.IdempotencyKey,
		Hash: row.RequestHash,
		Response: Response{
			Status:      int(row.ResponseStatus),
			Body:        row.ResponseBody,
			ContentType: row.ContentType,
		},
		Source: SourceDatabase,
	}
}
