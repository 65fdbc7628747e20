// Package publisher fans freshly collected live funding rates out over
// Redis Pub/Sub for downstream consumers. The fan-out is optional and
// best-effort; storage never depends on it.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/metrics"
)

// LiveRate is the wire form of one live funding sample.
type LiveRate struct {
	ContractID  uuid.UUID       `json:"contract_id"`
	Asset       string          `json:"asset"`
	Quote       string          `json:"quote"`
	FundingRate decimal.Decimal `json:"funding_rate"`
	Timestamp   time.Time       `json:"timestamp"`
}

// RedisPublisher publishes live rates to Redis Pub/Sub channels.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(addr string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// PublishLiveRates publishes one exchange's fresh live samples to
// funding.live.{exchange} as a JSON array.
func (p *RedisPublisher) PublishLiveRates(ctx context.Context, exchangeID string, rates []LiveRate) error {
	if len(rates) == 0 {
		return nil
	}
	data, err := json.Marshal(rates)
	if err != nil {
		return err
	}

	channel := fmt.Sprintf("funding.live.%s", exchangeID)
	timer := metrics.NewTimer()
	err = p.client.Publish(ctx, channel, string(data)).Err()
	timer.ObserveDuration(metrics.RedisPublishDuration, channel)
	if err != nil {
		metrics.RedisPublishErrors.WithLabelValues(channel).Inc()
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
