// Package idempotency replays stored responses for repeated checkout
// submissions carrying the same Idempotency-Key.
package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	redisadapter "github.com/boomfest/boom-tickets/internal/adapters/redis"
)

// ErrInFlight is returned by Begin when another request with the same key
// has not finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	resp, err := i.redis.Get(ctx, key)
	if err != nil || resp == nil {
		return nil, err
	}
	return &Response{Status: resp.Status, Result: resp.Result}, nil
}

// Begin returns a stored response for key, or claims the key for the caller.
// A nil response with a nil error means the caller must run the request and
// call Set or Abort.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	if resp, err := i.Get(ctx, key); err != nil || resp != nil {
		return resp, err
	}
	ok, err := i.redis.Claim(ctx, key, time.Minute)
	if err != nil {
		return nil, err
	}
	if !ok {
		if resp, err := i.Get(ctx, key); err != nil || resp != nil {
			return resp, err
		}
		return nil, ErrInFlight
	}
	return nil, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	err := i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
	if rerr := i.redis.Release(ctx, key); err == nil {
		err = rerr
	}
	return err
}

// Abort releases a claimed key without storing a response, so the client may retry.
func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.redis.Release(ctx, key)
}
