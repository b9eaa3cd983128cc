package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport is the acceptor. It admits connections and runs one
// connection state machine per client on a bounded worker pool.
type serverTransport struct {
	connector IServerConnector
	sink      telemetry.ISink

	// set by Listen
	config   common.ServerConfig
	codec    serializer.IRPCSerializer
	listener net.Listener
	workers  *semaphore.Weighted

	// set by Register
	cache      store.ICache
	dispatcher transport.IDispatcher

	live    *xsync.MapOf[uint64, *connection]
	nextID  atomic.Uint64
	wg      sync.WaitGroup
	serving atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new acceptor on top of the given connector.
// If sink is nil telemetry events are discarded.
func NewBaseServerTransport(connector IServerConnector, sink telemetry.ISink) transport.IRPCServerTransport {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &serverTransport{
		connector: connector,
		sink:      sink,
		live:      xsync.NewMapOf[uint64, *connection](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) Register(cache store.ICache, dispatcher transport.IDispatcher) {
	t.cache = cache
	t.dispatcher = dispatcher
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	t.config = config
	t.codec = serializer.NewBinarySerializer(serializer.LimitsFromConfig(config))
	t.workers = semaphore.NewWeighted(int64(config.WorkerLimit()))

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", t.connector.GetName(), config.Endpoint, err)
	}
	t.listener = listener

	Logger.Infof("Listening for %s connections on %s (max %d connections, %d workers)",
		t.connector.GetName(), listener.Addr(), config.MaxConnections, config.WorkerLimit())
	return nil
}

func (t *serverTransport) Serve(ctx context.Context) error {
	if t.listener == nil {
		return errors.New("serve called before listen")
	}
	if t.cache == nil || t.dispatcher == nil {
		return errors.New("serve called before register")
	}
	if !t.serving.CompareAndSwap(false, true) {
		return errors.New("transport is already serving")
	}

	// connections are bound to this context, it is cancelled before draining
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = t.listener.Close()
	})
	defer stop()

	var result error
	var delay time.Duration
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				result = fmt.Errorf("listener closed: %w", err)
				break
			}

			// Transient accept errors (e.g. out of file descriptors) are retried
			delay = acceptBackoff(delay)
			Logger.Warningf("Accept error: %v, retrying in %s", err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0
		t.accept(ctx, conn)
	}

	cancel()
	Logger.Infof("Stopped accepting connections, waiting for %d connections to terminate", t.LiveConnections())
	t.wg.Wait()
	Logger.Infof("All connections terminated")
	return result
}

func (t *serverTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) LiveConnections() int {
	return t.live.Size()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// accept admits a new socket or refuses it if the connection limit is reached.
// It never blocks on the worker pool.
func (t *serverTransport) accept(ctx context.Context, conn net.Conn) {
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		Logger.Warningf("Failed to configure connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	if t.live.Size() >= t.config.MaxConnections {
		t.rejectOverloaded(conn)
		return
	}

	c := newConnection(t.nextID.Add(1), conn, t)
	t.live.Store(c.id, c)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				Logger.Errorf("%s: connection goroutine panicked: %v", c, r)
				c.terminate(fmt.Errorf("panic: %v", r), false)
				t.deregister(c)
			}
		}()

		// wait for a free worker, shutdown releases waiting connections
		if err := t.workers.Acquire(ctx, 1); err != nil {
			c.terminate(nil, false)
			return
		}
		defer t.workers.Release(1)

		c.serve(ctx)
	}()
}

// rejectOverloaded refuses a connection above the connection limit. The reply
// is written on its own goroutine so the accept loop keeps running.
func (t *serverTransport) rejectOverloaded(conn net.Conn) {
	reason := fmt.Sprintf("exceeded max connections %d", t.config.MaxConnections)
	Logger.Warningf("Refusing connection from %s: %s", conn.RemoteAddr(), reason)
	t.sink.ConnectionRejected(conn.RemoteAddr().String(), reason)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
		if err := serializer.WriteHandshakeReply(conn, serializer.HandshakeReply{
			Code:   common.HandshakeRefused,
			Reason: reason,
		}); err != nil {
			Logger.Debugf("Failed to send refusal to %s: %v", conn.RemoteAddr(), err)
		}
		lingerClose(conn)
	}()
}

// admit validates a client handshake and returns the reply to send
func (t *serverTransport) admit(hs *serializer.Handshake) serializer.HandshakeReply {
	switch {
	case hs.Mode != common.HandshakeModeByte:
		return serializer.HandshakeReply{
			Code:   common.HandshakeInvalid,
			Reason: fmt.Sprintf("unknown communication mode %d", hs.Mode),
		}
	case !hs.Version.IsSupported():
		return serializer.HandshakeReply{
			Code:   common.HandshakeInvalid,
			Reason: fmt.Sprintf("unsupported version %s", hs.Version),
		}
	case hs.ClientID == "":
		return serializer.HandshakeReply{
			Code:   common.HandshakeInvalid,
			Reason: "missing client identity",
		}
	}
	return serializer.HandshakeReply{Code: common.HandshakeOK, Version: hs.Version}
}

// deregister removes a terminated connection from the live set
func (t *serverTransport) deregister(c *connection) {
	t.live.Delete(c.id)
}
