package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// aLongTimeAgo is a deadline in the past, it makes blocked i/o return at once
var aLongTimeAgo = time.Unix(1, 0)

// Client speaks the cache protocol over a single connection. Requests are
// sent one at a time, concurrent calls are serialized. A connection that
// failed is replaced on the next request.
type Client struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
	codec     serializer.IRPCSerializer

	mu      sync.Mutex // one request in flight
	conn    net.Conn
	reader  *bufio.Reader
	version common.Version

	threadID int64
	sequence atomic.Int64
}

// NewClient connects to the first reachable endpoint of config and performs
// the handshake. Zero values in config are replaced by defaults.
func NewClient(ctx context.Context, config common.ClientConfig, transport transport.IRPCClientTransport) (*Client, error) {
	config = withDefaults(config)
	c := &Client{
		config:    config,
		transport: transport,
		codec: serializer.NewBinarySerializer(serializer.Limits{
			MaxParts:      config.MaxParts,
			MaxPartLength: config.MaxPartLength,
		}),
		threadID: rand.Int63(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func withDefaults(config common.ClientConfig) common.ClientConfig {
	if config.ProtocolVersion == common.VersionUnknown {
		config.ProtocolVersion = common.VersionCurrent
	}
	if config.MaxParts <= 0 {
		config.MaxParts = common.DefaultMaxParts
	}
	if config.MaxPartLength <= 0 {
		config.MaxPartLength = common.DefaultMaxPartLength
	}
	if config.ClientID == "" {
		host, _ := os.Hostname()
		config.ClientID = fmt.Sprintf("%s-%d-%d", host, os.Getpid(), rand.Intn(1<<16))
	}
	return config
}

// Version returns the protocol version accepted by the server
func (c *Client) Version() common.Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// ClientID returns the identity sent in the handshake
func (c *Client) ClientID() string {
	return c.config.ClientID
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.reader = nil, nil
	return err
}

// NextEventID returns a new event id for a write of this client
func (c *Client) NextEventID() common.EventID {
	return common.EventID{ThreadID: c.threadID, SequenceID: c.sequence.Add(1)}
}

// --------------------------------------------------------------------------
// Transaction Context
// --------------------------------------------------------------------------

type txKey struct{}

// WithTransaction returns a context whose requests run in transaction id
func WithTransaction(ctx context.Context, id int32) context.Context {
	return context.WithValue(ctx, txKey{}, id)
}

func transactionOf(ctx context.Context) int32 {
	if id, ok := ctx.Value(txKey{}).(int32); ok {
		return id
	}
	return common.NoTransaction
}

// --------------------------------------------------------------------------
// Request Execution
// --------------------------------------------------------------------------

// SendRaw sends msg as is and returns the reply, exception replies included.
// The transaction id of msg is kept.
func (c *Client) SendRaw(ctx context.Context, msg *common.Message) (*common.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}
	return c.roundTrip(ctx, msg)
}

// invoke sends req and returns the reply, exception replies are returned as
// *common.RemoteError. Requests that fail with an i/o or framing error are
// resent on a new connection with the retry flag set, up to RetryCount times.
func (c *Client) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	req.TransactionID = transactionOf(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			req.Flags |= common.FlagIsRetry
			Logger.Debugf("retrying %s (attempt %d/%d): %v", req.OpCode, attempt+1, c.config.RetryCount+1, lastErr)
		}

		if c.conn == nil {
			if err := c.connect(ctx); err != nil {
				var he *common.HandshakeError
				if errors.As(err, &he) || ctx.Err() != nil {
					return nil, err
				}
				lastErr = err
				continue
			}
		}

		resp, err := c.roundTrip(ctx, req)
		if err == nil {
			if rerr := common.ErrorFromReply(resp); rerr != nil {
				return nil, rerr
			}
			return resp, nil
		}

		lastErr = err
		if !common.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		c.dropConnection()
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", req.OpCode, c.config.RetryCount+1, lastErr)
}

// roundTrip writes req and reads its reply. c.mu must be held.
func (c *Client) roundTrip(ctx context.Context, req *common.Message) (*common.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, &common.IOError{Op: "set deadline", Err: err}
	}
	if err := c.codec.WriteMessage(c.conn, req); err != nil {
		return nil, err
	}
	resp, err := c.codec.ReadMessage(c.reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &common.IOError{Op: "read reply", Err: err}
		}
		return nil, err
	}
	// the server reports unreadable requests without a transaction
	detached := resp.IsError() && resp.TransactionID == common.NoTransaction
	if resp.TransactionID != req.TransactionID && !detached {
		return nil, common.NewFramingError("reply for transaction %d, expected %d", resp.TransactionID, req.TransactionID)
	}
	return resp, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if timeout := c.config.Timeout(); timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// connect dials and performs the handshake. c.mu must be held.
func (c *Client) connect(ctx context.Context) error {
	conn, err := c.transport.Dial(ctx, c.config)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(conn)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()
	_ = conn.SetDeadline(c.deadline(ctx))

	hs := serializer.Handshake{
		Mode:     common.HandshakeModeByte,
		Version:  c.config.ProtocolVersion,
		ClientID: c.config.ClientID,
	}
	if err := serializer.WriteHandshake(conn, hs); err != nil {
		_ = conn.Close()
		return err
	}
	reply, err := serializer.ReadHandshakeReply(reader, c.config.MaxPartLength)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := reply.Err(); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn, c.reader, c.version = conn, reader, reply.Version
	Logger.Debugf("connected to %s as %q, protocol %s", conn.RemoteAddr(), c.config.ClientID, c.version)
	return nil
}

// dropConnection closes a failed connection. c.mu must be held.
func (c *Client) dropConnection() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.reader = nil, nil
}
