package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const subscriptionsKey = "push:subscriptions"

// RedisSubscriptionStore shares push registrations between server instances.
type RedisSubscriptionStore struct {
	client *redis.Client
	hash   string
}

func NewRedisSubscriptionStore(client *redis.Client) *RedisSubscriptionStore {
	return &RedisSubscriptionStore{client: client, hash: subscriptionsKey}
}

func (r *RedisSubscriptionStore) Save(ctx context.Context, key string, sub Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.hash, key, data).Err()
}

func (r *RedisSubscriptionStore) Get(ctx context.Context, key string) (*Subscription, error) {
	data, err := r.client.HGet(ctx, r.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *RedisSubscriptionStore) Delete(ctx context.Context, key string) error {
	return r.client.HDel(ctx, r.hash, key).Err()
}
