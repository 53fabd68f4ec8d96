// Package store keeps the latest EVSE readings outside the bridge process
package store

import (
	"context"

	"openevse-mqtt-bridge/pkg/evse"
)

// StateStore persists the most recent readings of a device
type StateStore interface {
	Save(ctx context.Context, deviceID string, readings []evse.Reading) error
	Load(ctx context.Context, deviceID string) (map[string]string, error)
	Close() error
}

// NullStore discards everything; used when no store is configured
type NullStore struct{}

func (NullStore) Save(context.Context, string, []evse.Reading) error { return nil }

func (NullStore) Load(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (NullStore) Close() error { return nil }

var _ StateStore = NullStore{}
