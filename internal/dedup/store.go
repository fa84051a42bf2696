package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageLogStore checks whatsapp_messages, which survives restarts.
type MessageLogStore struct {
	db rowQuerier
}

func NewMessageLogStore(db rowQuerier) *MessageLogStore {
	if db == nil {
		panic("dedup: db required")
	}
	return &MessageLogStore{db: db}
}

// Seen checks if the provider message id was already logged.
func (s *MessageLogStore) Seen(ctx context.Context, messageID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM whatsapp_messages WHERE wa_message_id = $1 LIMIT 1`, messageID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("dedup: check message log: %w", err)
	}
	return true, nil
}

// RedisClaimer claims ids with SET NX so replicas agree on one winner.
type RedisClaimer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisClaimer(client *redis.Client, ttl time.Duration) *RedisClaimer {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisClaimer{client: client, prefix: "dedup:wa:", ttl: ttl}
}

func (c *RedisClaimer) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+messageID, time.Now().UTC().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis claim: %w", err)
	}
	return ok, nil
}
