package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPresencePrefix = "relay:presence:"
	DefaultPresenceTTL    = 12 * time.Hour
)

// PresenceSink keeps the last known agent status per tenant in a Redis hash
// (field = user id) so dashboards can read presence without a socket.
type PresenceSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type presenceEntry struct {
	Status       string    `json:"status"`
	Availability string    `json:"availability"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func NewPresenceSink(client *redis.Client, prefix string, ttl time.Duration) *PresenceSink {
	return &PresenceSink{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (p *PresenceSink) key(tenantId string) string {
	return p.prefix + tenantId
}

func (p *PresenceSink) Write(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case AgentStatusChanged:
		data, err := json.Marshal(presenceEntry{
			Status:       ev.Status,
			Availability: ev.Availability,
			UpdatedAt:    ev.At,
		})
		if err != nil {
			return fmt.Errorf("marshal presence: %w", err)
		}

		key := p.key(ev.TenantId)
		pipe := p.client.TxPipeline()
		pipe.HSet(ctx, key, ev.UserId, data)
		pipe.Expire(ctx, key, p.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("presence set: %w", err)
		}
	case ConnectionClosed:
		if err := p.client.HDel(ctx, p.key(ev.TenantId), ev.UserId).Err(); err != nil {
			return fmt.Errorf("presence del: %w", err)
		}
	}

	return nil
}

func (p *PresenceSink) Close() error {
	return p.client.Close()
}
