package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientTransport dials the endpoints of a client configuration
type clientTransport struct {
	connector IClientConnector
}

// initialDialBackoff is the pause after the first round of failed dials
const initialDialBackoff = 50 * time.Millisecond

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Dial(ctx context.Context, config common.ClientConfig) (net.Conn, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("no endpoints provided")
	}

	// We always try at least once
	rounds := config.RetryCount + 1
	backoff := initialDialBackoff

	var lastErr error
	for i := 0; i < rounds; i++ {
		for _, endpoint := range config.Endpoints {
			conn, err := t.dial(ctx, endpoint, config)
			if err == nil {
				Logger.Debugf("Connected to %s using %s transport", endpoint, t.connector.GetName())
				return conn, nil
			}
			lastErr = err
			Logger.Debugf("Dial attempt %d/%d to %s failed: %v", i+1, rounds, endpoint, err)
		}

		if i < rounds-1 {
			// Exponential backoff with jitter
			select {
			case <-time.After(jitter(backoff)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to any endpoint after %d attempts: %w", rounds, lastErr)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) dial(ctx context.Context, endpoint string, config common.ClientConfig) (net.Conn, error) {
	if timeout := config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := t.connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}
	return conn, nil
}
