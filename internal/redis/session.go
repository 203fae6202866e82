package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("checkout session not found")

func sessionKey(paymentID string) string {
	return "session:" + paymentID
}

// PutSession stores the encoded checkout session for a payment link. The key
// expires with the session so abandoned checkouts clean themselves up.
func (c *Client) PutSession(ctx context.Context, paymentID string, record []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefixKey(sessionKey(paymentID)), record, ttl).Err()
}

func (c *Client) GetSession(ctx context.Context, paymentID string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.prefixKey(sessionKey(paymentID))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	return val, err
}

func (c *Client) DeleteSession(ctx context.Context, paymentID string) error {
	return c.rdb.Del(ctx, c.prefixKey(sessionKey(paymentID))).Err()
}
