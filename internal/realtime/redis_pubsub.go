package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "org:"
	publishTimeout = 5 * time.Second
)

// bridgeEnvelope wraps a serialized event with the publishing instance ID
// so a node can skip its own messages. Local delivery already happened at
// publish time; echoing it back would break at-most-once delivery.
type bridgeEnvelope struct {
	Src  string          `json:"src"`
	Data json.RawMessage `json:"data"`
}

// RedisPubSub bridges org-room events across instances via Redis pub/sub.
// It implements Publisher and Subscriber.
type RedisPubSub struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
}

// NewRedisPubSub creates a Redis pub/sub bridge for organization events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger, instanceID: uuid.New().String()}
}

// PublishOrgEvent publishes a serialized event to the organization's channel.
func (r *RedisPubSub) PublishOrgEvent(orgID uuid.UUID, payload []byte) error {
	body, err := json.Marshal(bridgeEnvelope{Src: r.instanceID, Data: payload})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+orgID.String(), body).Err()
}

// SubscribeOrg subscribes to an organization's channel and calls handler for
// each message published by other instances. Returns a cancel function.
func (r *RedisPubSub) SubscribeOrg(orgID uuid.UUID, handler func(payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + orgID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env bridgeEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				if env.Src == r.instanceID {
					continue
				}
				handler(env.Data)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
