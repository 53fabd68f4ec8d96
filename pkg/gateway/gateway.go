package gateway

import (
	"context"

	"openevse-mqtt-bridge/pkg/rapi"
)

// Gateway is a RAPI command channel with an explicit connection lifecycle
type Gateway interface {
	rapi.Channel

	// Connect establishes the transport, retrying until ctx is done
	Connect(ctx context.Context) error

	// Disconnect closes the transport
	Disconnect()

	// IsConnected checks if the transport is up
	IsConnected() bool
}
