package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingCheckoutTTL = time.Hour

// PendingCheckout is the customer data captured by the initiate API
// before the gateway popup opens. Webhook processing consults it when
// the gateway payload's metadata block is incomplete.
type PendingCheckout struct {
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerCompany string `json:"customer_company"`
	Plan            string `json:"plan"`
	Currency        string `json:"currency"`
}

// PendingStore holds pending checkout data keyed by a caller-supplied
// reference. Lookups for unknown references return (nil, nil).
type PendingStore interface {
	Save(ctx context.Context, ref string, pending PendingCheckout) error
	Load(ctx context.Context, ref string) (*PendingCheckout, error)
}

type redisPendingStore struct {
	client *redis.Client
}

// NewRedisPendingStore creates a PendingStore backed by redis with a 1h
// TTL per entry.
func NewRedisPendingStore(client *redis.Client) PendingStore {
	return &redisPendingStore{client: client}
}

func (s *redisPendingStore) Save(ctx context.Context, ref string, pending PendingCheckout) error {
	if ref == "" {
		return errors.New("pending checkout ref is required")
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, pendingKey(ref), data, pendingCheckoutTTL).Err()
}

func (s *redisPendingStore) Load(ctx context.Context, ref string) (*PendingCheckout, error) {
	if ref == "" {
		return nil, nil
	}
	data, err := s.client.Get(ctx, pendingKey(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var pending PendingCheckout
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

func pendingKey(ref string) string {
	return "payment:pending:" + ref
}
