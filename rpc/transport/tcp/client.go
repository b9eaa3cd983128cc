package tcp

import (
	"context"
	"net"
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/ValentinKolb/dGrid/rpc/transport/base"
)

const (
	clientBufferSize = 32 * 1024 // 32 KB
	clientKeepAlive  = 30 * time.Second
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "tcp", endpoint)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, _ common.ClientConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return applySocketOptions(tcpConn, true, clientBufferSize, clientKeepAlive)
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a new TCP client transport
func NewTCPClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}

// applySocketOptions sets Nagle, buffer sizes and keep-alive of a TCP connection.
// Zero values leave the system defaults in place.
func applySocketOptions(conn *net.TCPConn, noDelay bool, bufferSize int, keepAlive time.Duration) error {
	if err := conn.SetNoDelay(noDelay); err != nil {
		return err
	}

	if bufferSize > 0 {
		if err := conn.SetWriteBuffer(bufferSize); err != nil {
			return err
		}
		if err := conn.SetReadBuffer(bufferSize); err != nil {
			return err
		}
	}

	if keepAlive > 0 {
		if err := conn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := conn.SetKeepAlivePeriod(keepAlive); err != nil {
			return err
		}
	}
	return nil
}
