package store

import (
	"context"
	"fmt"

	"cart-service/internal/redisclient"
)

// Redis stores each blob under its own string key
type Redis struct {
	client *redisclient.Client
	keys   Keys
}

// NewRedis wraps a connected client
func NewRedis(client *redisclient.Client, keys Keys) (*Redis, error) {
	if err := keys.validate(); err != nil {
		return nil, err
	}
	return &Redis{client: client, keys: keys}, nil
}

func (r *Redis) Load(ctx context.Context) (Snapshot, error) {
	blobs, err := r.client.GetBlobs(ctx, r.keys.all()...)
	if err != nil {
		return Empty(), fmt.Errorf("failed to load blobs: %w", err)
	}
	return decode(r.keys, blobs)
}

func (r *Redis) Save(ctx context.Context, snap Snapshot) error {
	blobs, err := encode(r.keys, snap)
	if err != nil {
		return err
	}
	return r.client.SetBlobs(ctx, blobs)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
