package redis

import (
	"context"
	"errors"
	"time"
)

var ErrKeyExists = errors.New("idempotency key already exists")

const pendingMarker = "pending"

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// CheckAndSetIdempotency claims key for a new operation. It returns
// (nil, nil) when the caller now owns the key, the stored response when the
// operation already completed, and ErrKeyExists while another caller is still
// working on it.
func (c *Client) CheckAndSetIdempotency(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	prefixedKey := c.prefixKey(idempotencyKey(key))

	set, err := c.rdb.SetNX(ctx, prefixedKey, pendingMarker, ttl).Result()
	if err != nil {
		return nil, err
	}

	if set {
		return nil, nil
	}

	val, err := c.rdb.Get(ctx, prefixedKey).Result()
	if err != nil {
		return nil, err
	}

	if val == pendingMarker {
		return nil, ErrKeyExists
	}

	return []byte(val), nil
}

// MarkIdempotencyComplete stores the response of a finished operation.
func (c *Client) MarkIdempotencyComplete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefixKey(idempotencyKey(key)), response, ttl).Err()
}

// MarkIdempotencyFailed releases the key so the operation can be tried again.
func (c *Client) MarkIdempotencyFailed(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefixKey(idempotencyKey(key))).Err()
}
