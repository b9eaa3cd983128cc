package base

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/telemetry"
)

// aLongTimeAgo is a read deadline in the past, it makes blocked reads return at once
var aLongTimeAgo = time.Unix(1, 0)

// lingerTimeout bounds how long a connection that is closed because of a
// protocol error keeps draining input so the final reply is not lost to a reset
const lingerTimeout = 500 * time.Millisecond

// connection runs the state machine of one client connection. All fields
// except state are owned by the connection goroutine.
type connection struct {
	id      uint64
	conn    net.Conn
	reader  *bufio.Reader
	server  *serverTransport
	started time.Time

	state    atomic.Int32
	version  common.Version
	clientID string

	counters *telemetry.ByteCounters
}

func newConnection(id uint64, conn net.Conn, server *serverTransport) *connection {
	c := &connection{
		id:       id,
		conn:     conn,
		server:   server,
		started:  time.Now(),
		counters: server.sink.NewByteCounters(),
	}
	c.reader = bufio.NewReader(&countingReader{r: conn, counters: c.counters})
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *connection) ID() uint64              { return c.id }
func (c *connection) Version() common.Version { return c.version }
func (c *connection) ClientID() string        { return c.clientID }
func (c *connection) Cache() store.ICache     { return c.server.cache }
func (c *connection) RemoteAddr() net.Addr    { return c.conn.RemoteAddr() }

// State returns the current lifecycle state, safe to call from any goroutine
func (c *connection) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *connection) String() string {
	return fmt.Sprintf("conn#%d(%s)", c.id, c.conn.RemoteAddr())
}

// transition moves the state machine to next. An illegal transition is a bug and panics.
func (c *connection) transition(next ConnState) {
	cur := c.State()
	if !cur.CanTransition(next) {
		panic(fmt.Sprintf("%s: illegal state transition %s -> %s", c, cur, next))
	}
	c.state.Store(int32(next))
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// serve runs the connection until it terminates. Cancelling ctx interrupts
// the next blocking read, a reply that is being written is finished first.
func (c *connection) serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	if !c.handshake(ctx) {
		return
	}

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
			c.terminate(&common.IOError{Op: "set read deadline", Err: err}, false)
			return
		}
		// checked after arming the deadline, so a cancellation can not slip in before the read
		if ctx.Err() != nil {
			c.terminate(nil, false)
			return
		}

		req, err := c.server.codec.ReadMessage(c.reader)
		if err != nil {
			c.readFailed(ctx, err)
			return
		}

		if !c.process(ctx, req) {
			return
		}
	}
}

// handshake reads and answers the client handshake. It returns false if the
// connection was terminated.
func (c *connection) handshake(ctx context.Context) bool {
	c.transition(StateHandshaking)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.HandshakeTimeout)); err != nil {
		c.terminate(&common.IOError{Op: "set read deadline", Err: err}, false)
		return false
	}
	if ctx.Err() != nil {
		c.terminate(nil, false)
		return false
	}

	hs, err := serializer.ReadHandshake(c.reader, c.server.config.MaxPartLength)
	if err != nil {
		var he *common.HandshakeError
		if errors.As(err, &he) {
			c.reject(serializer.HandshakeReply{Code: he.Code, Reason: he.Reason})
			return false
		}
		c.terminate(err, false)
		return false
	}

	reply := c.server.admit(hs)
	if !reply.Accepted() {
		c.reject(reply)
		return false
	}

	if err := c.writeHandshakeReply(reply); err != nil {
		c.terminate(err, false)
		return false
	}

	c.version = reply.Version
	c.clientID = hs.ClientID
	c.transition(StateReady)
	c.server.sink.ConnectionAccepted(c.conn.RemoteAddr().String(), c.version)
	Logger.Debugf("%s: handshake completed, client %q speaks %s", c, c.clientID, c.version)
	return true
}

// reject answers a handshake with a refusal and terminates the connection
func (c *connection) reject(reply serializer.HandshakeReply) {
	Logger.Infof("%s: handshake rejected: %s", c, reply.Reason)
	c.server.sink.ConnectionRejected(c.conn.RemoteAddr().String(), reply.Reason)
	if err := c.writeHandshakeReply(reply); err != nil {
		Logger.Debugf("%s: failed to send handshake rejection: %v", c, err)
	}
	c.terminate(&common.HandshakeError{Code: reply.Code, Reason: reply.Reason}, true)
}

func (c *connection) writeHandshakeReply(reply serializer.HandshakeReply) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		return &common.IOError{Op: "set write deadline", Err: err}
	}
	w := &countingWriter{w: c.conn, counters: c.counters}
	return serializer.WriteHandshakeReply(w, reply)
}

// readFailed classifies a failed read and terminates the connection
func (c *connection) readFailed(ctx context.Context, err error) {
	var fe *common.FramingError
	var netErr net.Error

	switch {
	case errors.Is(err, io.EOF):
		Logger.Debugf("%s: connection closed by client", c)
		c.terminate(nil, false)

	case ctx.Err() != nil:
		c.terminate(nil, false)

	case errors.As(err, &fe):
		Logger.Warningf("%s: %v", c, err)
		// best effort, the client may still read it
		_ = c.writeReply(common.NewErrorReply(common.WrapAppError(common.ErrCodeBadPart, err, "malformed frame"), common.NoTransaction))
		c.terminate(err, true)

	case errors.As(err, &netErr) && netErr.Timeout():
		Logger.Infof("%s: idle for more than %s, closing", c, c.server.config.IdleTimeout)
		c.terminate(err, false)

	default:
		c.terminate(err, false)
	}
}

// terminate closes the socket and deregisters the connection. It is idempotent.
// With linger set the read side is drained for a short time first.
func (c *connection) terminate(cause error, linger bool) {
	if c.State() == StateTerminated {
		return
	}
	c.transition(StateTerminated)

	if cause != nil {
		Logger.Debugf("%s: terminated: %v", c, cause)
	}

	if linger {
		lingerClose(c.conn)
	} else {
		_ = c.conn.Close()
	}

	c.server.deregister(c)
	c.server.sink.ConnectionClosed(c.conn.RemoteAddr().String(), c.version, c.counters, time.Since(c.started))
}

// --------------------------------------------------------------------------
// Request Processing
// --------------------------------------------------------------------------

// process executes one request and writes the reply. It returns false if the
// connection was terminated.
func (c *connection) process(ctx context.Context, req *common.Message) bool {
	c.transition(StateProcessing)
	start := time.Now()

	tx := txn.NewContext(req.TransactionID, c.clientID)

	// requests that were read completely are finished even during shutdown
	reply, err := c.dispatch(context.WithoutCancel(ctx), tx, req)
	if err == nil && reply == nil {
		err = common.NewAppError(common.ErrCodeInternal, "%s produced no reply", req.OpCode)
	}
	if err == nil {
		if verr := c.server.codec.Validate(reply); verr != nil {
			err = common.WrapAppError(common.ErrCodeInternal, verr, "reply can not be encoded")
		}
	}
	if err == nil && reply.IsError() {
		// exception replies must carry a code and a message
		var remote *common.RemoteError
		if rerr := common.ErrorFromReply(reply); !errors.As(rerr, &remote) {
			err = common.WrapAppError(common.ErrCodeInternal, rerr, "%s produced a malformed exception reply", req.OpCode)
		}
	}
	if err != nil {
		Logger.Debugf("%s: %s failed: %v", c, req.OpCode, err)
		reply = common.NewErrorReply(err, req.TransactionID)
	}
	reply.TransactionID = req.TransactionID

	if werr := c.writeReply(reply); werr != nil {
		c.terminate(werr, false)
		return false
	}

	if reply.IsError() {
		code := int32(common.ErrCodeInternal)
		if p := reply.Part(0); p != nil {
			code, _ = p.GetInt()
		}
		c.server.sink.RequestFailed(req.OpCode, common.ErrorCode(code), time.Since(start))
	} else {
		c.server.sink.RequestServed(req.OpCode, time.Since(start))
	}

	c.transition(StateReady)
	return true
}

// dispatch runs the dispatcher and converts a panic into an internal error
func (c *connection) dispatch(ctx context.Context, tx txn.Context, req *common.Message) (reply *common.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("%s: handler for %s panicked: %v\n%s", c, req.OpCode, r, debug.Stack())
			reply, err = nil, common.NewAppError(common.ErrCodeInternal, "handler for %s panicked: %v", req.OpCode, r)
		}
	}()
	return c.server.dispatcher.Dispatch(ctx, tx, req, c)
}

// writeReply writes one reply within the write timeout
func (c *connection) writeReply(reply *common.Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		return &common.IOError{Op: "set write deadline", Err: err}
	}
	if err := c.server.codec.WriteMessage(c.conn, reply); err != nil {
		return err
	}
	c.counters.Written.Inc(int64(serializer.FrameSize(reply)))
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// countingReader counts the bytes read from the socket
type countingReader struct {
	r        io.Reader
	counters *telemetry.ByteCounters
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.counters.Read.Inc(int64(n))
	}
	return n, err
}

// countingWriter counts the bytes written to the socket
type countingWriter struct {
	w        io.Writer
	counters *telemetry.ByteCounters
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.counters.Written.Inc(int64(n))
	}
	return n, err
}

// lingerClose half closes the connection and drains pending input until the
// peer closes or lingerTimeout passes, then closes the socket
func lingerClose(conn net.Conn) {
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = hc.CloseWrite()
		_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
		_, _ = io.Copy(io.Discard, io.LimitReader(conn, 1<<20))
	}
	_ = conn.Close()
}
