package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mailer:receipt:"

// ReceiptCache keeps delivery receipts in Redis for ttl.
type ReceiptCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReceiptCache(client *redis.Client, ttl time.Duration) *ReceiptCache {
	return &ReceiptCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ReceiptCache) Put(ctx context.Context, receipt domain.Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return c.client.Set(ctx, key(receipt.MessageID), data, c.ttl).Err()
}

func (c *ReceiptCache) Get(ctx context.Context, messageID int64) (domain.Receipt, error) {
	val, err := c.client.Get(ctx, key(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Receipt{}, domain.ErrReceiptNotFound
	}
	if err != nil {
		return domain.Receipt{}, err
	}

	var receipt domain.Receipt
	if err := json.Unmarshal(val, &receipt); err != nil {
		return domain.Receipt{}, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return receipt, nil
}

func key(messageID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, messageID)
}
