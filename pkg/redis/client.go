package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/pkg/logger"
)

// Client is an optional observability cache. The worker records a receipt per
// successful send and the webhook service records the last reported gateway
// connection state per instance; both degrade to no-ops when Redis is down.
type Client struct {
	client valkey.Client
}

const (
	receiptKeyPrefix  = "sent_receipt:"
	receiptTTL        = 24 * time.Hour
	instanceKeyPrefix = "instance_state:"
	instanceStateTTL  = 7 * 24 * time.Hour
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

func (c *Client) CacheSentReceipt(ctx context.Context, receipt domain.SentReceipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	key := fmt.Sprintf("%s%s:%d", receiptKeyPrefix, receipt.Tenant, receipt.MessageID)

	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(receiptTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache sent receipt: %w", err)
	}

	logger.Debugf("Cached receipt for message %d (tenant %s)", receipt.MessageID, receipt.Tenant)

	return nil
}

// GetRecentReceipts returns every cached receipt, optionally filtered by
// tenant name. Scan-based, so only suitable for operator inspection.
func (c *Client) GetRecentReceipts(ctx context.Context, tenant string) ([]domain.SentReceipt, error) {
	pattern := receiptKeyPrefix + "*"
	if tenant != "" {
		pattern = receiptKeyPrefix + tenant + ":*"
	}

	var keys []string
	var cursor uint64
	for {
		result := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build())
		if result.Error() != nil {
			return nil, fmt.Errorf("failed to scan receipt keys: %w", result.Error())
		}

		scanResult, err := result.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to parse scan result: %w", err)
		}

		keys = append(keys, scanResult.Elements...)
		cursor = scanResult.Cursor

		if cursor == 0 {
			break
		}
	}

	receipts := make([]domain.SentReceipt, 0, len(keys))

	for _, key := range keys {
		getResult := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
		if getResult.Error() != nil {
			continue
		}

		data, err := getResult.ToString()
		if err != nil {
			continue
		}

		var receipt domain.SentReceipt
		if err := json.Unmarshal([]byte(data), &receipt); err != nil {
			logger.Warnf("failed to unmarshal receipt at key %q: %v", key, err)
			continue
		}

		receipts = append(receipts, receipt)
	}

	return receipts, nil
}

// SetConnectionState records the gateway's last reported state for an
// instance so operators can see which tenants have dropped offline.
func (c *Client) SetConnectionState(ctx context.Context, instance, state string) error {
	key := instanceKeyPrefix + instance

	err := c.client.Do(ctx, c.client.B().Set().Key(key).Value(state).Ex(instanceStateTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to record connection state: %w", err)
	}

	return nil
}

func (c *Client) GetConnectionState(ctx context.Context, instance string) (string, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(instanceKeyPrefix+instance).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get connection state: %w", result.Error())
	}

	return result.ToString()
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
