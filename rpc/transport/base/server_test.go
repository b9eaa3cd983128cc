package base

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/store/lstore"
	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Helper
// --------------------------------------------------------------------------

const (
	opEcho  common.OpCode = 100
	opPanic common.OpCode = 101
	opBlock common.OpCode = 102
)

type testConnector struct{}

func (testConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Endpoint)
}
func (testConnector) GetName() string                                      { return "test" }
func (testConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

func testConfig() common.ServerConfig {
	c := common.DefaultServerConfig()
	c.Endpoint = "127.0.0.1:0"
	c.MaxPartLength = 1024
	c.MaxParts = 16
	c.HandshakeTimeout = 2 * time.Second
	c.IdleTimeout = 5 * time.Second
	c.WriteTimeout = 2 * time.Second
	return c
}

// testDispatcher answers ping and echo, panics on opPanic, blocks on opBlock
// until release is closed and rejects everything else
type testDispatcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}

	mu  sync.Mutex
	txs []txn.Context
}

func newTestDispatcher() *testDispatcher {
	return &testDispatcher{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (d *testDispatcher) Dispatch(_ context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.txs = append(d.txs, tx)
	d.mu.Unlock()

	switch req.OpCode {
	case common.OpPing:
		return common.NewMessage(common.OpReply), nil
	case opEcho:
		return common.NewMessage(common.OpReply, append(req.Parts, common.StringPart(conn.ClientID()))...), nil
	case opPanic:
		panic("boom")
	case opBlock:
		d.started <- struct{}{}
		<-d.release
		return common.NewMessage(common.OpReply), nil
	default:
		return nil, &common.UnknownOperationError{OpCode: req.OpCode}
	}
}

type testServer struct {
	transport *serverTransport
	addr      string
	cancel    context.CancelFunc
	done      chan error

	once sync.Once
	err  error
}

func startServer(t *testing.T, config common.ServerConfig, d transport.IDispatcher, sink telemetry.ISink) *testServer {
	t.Helper()
	tr := NewBaseServerTransport(testConnector{}, sink).(*serverTransport)
	tr.Register(lstore.NewCache(), d)
	require.NoError(t, tr.Listen(config))

	ctx, cancel := context.WithCancel(context.Background())
	s := &testServer{transport: tr, addr: tr.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- tr.Serve(ctx) }()
	t.Cleanup(func() { assert.NoError(t, s.stop()) })
	return s
}

// stop cancels Serve and waits for it to return
func (s *testServer) stop() error {
	s.once.Do(func() {
		s.cancel()
		select {
		case s.err = <-s.done:
		case <-time.After(5 * time.Second):
			s.err = errors.New("server did not shut down")
		}
	})
	return s.err
}

type testClient struct {
	conn  net.Conn
	r     *bufio.Reader
	codec serializer.IRPCSerializer
}

func dialRaw(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &testClient{conn: conn, r: bufio.NewReader(conn), codec: serializer.NewBinarySerializer(serializer.DefaultLimits())}
}

func (c *testClient) handshake(t *testing.T, version common.Version, clientID string) *serializer.HandshakeReply {
	t.Helper()
	require.NoError(t, serializer.WriteHandshake(c.conn, serializer.Handshake{
		Mode:     common.HandshakeModeByte,
		Version:  version,
		ClientID: clientID,
	}))
	reply, err := serializer.ReadHandshakeReply(c.r, 1<<16)
	require.NoError(t, err)
	return reply
}

func connect(t *testing.T, addr string, clientID string) *testClient {
	t.Helper()
	c := dialRaw(t, addr)
	reply := c.handshake(t, common.V2, clientID)
	require.True(t, reply.Accepted(), "handshake rejected: %s", reply.Reason)
	require.Equal(t, common.V2, reply.Version)
	return c
}

func (c *testClient) call(t *testing.T, req *common.Message) *common.Message {
	t.Helper()
	require.NoError(t, c.codec.WriteMessage(c.conn, req))
	resp, err := c.codec.ReadMessage(c.r)
	require.NoError(t, err)
	return resp
}

// expectClosed asserts that the server closed the connection
func (c *testClient) expectClosed(t *testing.T) {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err := c.r.ReadByte()
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(t, netErr.Timeout(), "connection was not closed")
	}
}

func errorCode(t *testing.T, reply *common.Message) common.ErrorCode {
	t.Helper()
	require.True(t, reply.IsError(), "expected exception reply, got %s", reply)
	code, err := reply.Parts[0].GetInt()
	require.NoError(t, err)
	return common.ErrorCode(code)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestListenRejectsInvalidConfig(t *testing.T) {
	tr := NewBaseServerTransport(testConnector{}, nil)
	config := testConfig()
	config.MaxConnections = 0
	assert.Error(t, tr.Listen(config))
	assert.Nil(t, tr.Addr())
	assert.Error(t, tr.Serve(context.Background()))
}

func TestRequestReply(t *testing.T) {
	d := newTestDispatcher()
	s := startServer(t, testConfig(), d, nil)
	c := connect(t, s.addr, "client-a")

	req := common.NewMessage(opEcho, common.StringPart("hello"), common.IntPart(7))
	req.TransactionID = 17
	resp := c.call(t, req)

	assert.Equal(t, common.OpReply, resp.OpCode)
	assert.EqualValues(t, 17, resp.TransactionID)
	require.Equal(t, 3, resp.NumParts())
	str, _ := resp.Parts[0].GetString()
	assert.Equal(t, "hello", str)
	id, _ := resp.Parts[2].GetString()
	assert.Equal(t, "client-a", id)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.txs, 1)
	assert.Equal(t, txn.Context{ID: 17, ClientID: "client-a"}, d.txs[0])
}

func TestHandshakeRejected(t *testing.T) {
	tests := []struct {
		name     string
		mode     byte
		version  common.Version
		clientID string
		reason   string
	}{
		{"unsupported version", common.HandshakeModeByte, common.Version(9), "c", "unsupported version"},
		{"unknown mode", 7, common.V1, "c", "mode"},
		{"missing identity", common.HandshakeModeByte, common.V1, "", "identity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := telemetry.NewSink()
			defer sink.Close()
			d := newTestDispatcher()
			s := startServer(t, testConfig(), d, sink)

			c := dialRaw(t, s.addr)
			require.NoError(t, serializer.WriteHandshake(c.conn, serializer.Handshake{Mode: tt.mode, Version: tt.version, ClientID: tt.clientID}))
			reply, err := serializer.ReadHandshakeReply(c.r, 1<<16)
			require.NoError(t, err)

			assert.Equal(t, common.HandshakeInvalid, reply.Code)
			assert.Contains(t, reply.Reason, tt.reason)
			c.expectClosed(t)
			assert.Zero(t, d.calls.Load())
			assert.EqualValues(t, 1, sink.Rejected())
			assert.Eventually(t, func() bool { return s.transport.LiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestDataFrameBeforeHandshake(t *testing.T) {
	d := newTestDispatcher()
	s := startServer(t, testConfig(), d, nil)

	c := dialRaw(t, s.addr)
	frame, err := c.codec.Serialize(common.NewMessage(common.OpPut, common.StringPart("r")))
	require.NoError(t, err)
	_, err = c.conn.Write(frame)
	require.NoError(t, err)

	reply, err := serializer.ReadHandshakeReply(c.r, 1<<16)
	require.NoError(t, err)
	assert.False(t, reply.Accepted())
	c.expectClosed(t)
	assert.Zero(t, d.calls.Load())
}

func TestErrorsKeepConnectionUsable(t *testing.T) {
	d := newTestDispatcher()
	s := startServer(t, testConfig(), d, nil)
	c := connect(t, s.addr, "client-a")

	resp := c.call(t, common.NewMessage(common.OpCode(999)))
	assert.Equal(t, common.ErrCodeUnknownOperation, errorCode(t, resp))

	resp = c.call(t, common.NewMessage(opPanic))
	assert.Equal(t, common.ErrCodeInternal, errorCode(t, resp))
	msg, _ := resp.Parts[1].GetString()
	assert.Contains(t, msg, "panicked")

	resp = c.call(t, common.NewMessage(common.OpPing))
	assert.Equal(t, common.OpReply, resp.OpCode)
}

func TestInvalidReplyBecomesError(t *testing.T) {
	config := testConfig()
	d := transport.DispatchFunc(func(context.Context, txn.Context, *common.Message, transport.IConnection) (*common.Message, error) {
		return common.NewMessage(common.OpReply, common.BytesPart(make([]byte, config.MaxPartLength+1))), nil
	})
	s := startServer(t, config, d, nil)
	c := connect(t, s.addr, "client-a")

	resp := c.call(t, common.NewMessage(opEcho))
	assert.Equal(t, common.ErrCodeInternal, errorCode(t, resp))
}

func TestMalformedExceptionReplyBecomesInternalError(t *testing.T) {
	tests := []struct {
		name  string
		reply *common.Message
	}{
		{"no parts", common.NewMessage(common.OpException)},
		{"code is not an int", common.NewMessage(common.OpException, common.StringPart("oops"), common.StringPart("text"))},
		{"missing message", common.NewMessage(common.OpException, common.IntPart(int32(common.ErrCodeBadPart)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := telemetry.NewSink()
			defer sink.Close()
			d := transport.DispatchFunc(func(_ context.Context, _ txn.Context, req *common.Message, _ transport.IConnection) (*common.Message, error) {
				if req.OpCode == common.OpPing {
					return common.NewMessage(common.OpReply), nil
				}
				return tt.reply, nil
			})
			s := startServer(t, testConfig(), d, sink)
			c := connect(t, s.addr, "client-a")

			resp := c.call(t, common.NewMessage(opEcho))
			assert.Equal(t, common.ErrCodeInternal, errorCode(t, resp))
			require.Equal(t, 2, resp.NumParts())
			msg, _ := resp.Parts[1].GetString()
			assert.Contains(t, msg, "malformed exception reply")

			// the connection survives
			resp = c.call(t, common.NewMessage(common.OpPing))
			assert.Equal(t, common.OpReply, resp.OpCode)

			var buf strings.Builder
			sink.WritePrometheus(&buf)
			assert.Contains(t, buf.String(), `status="error",code="99"`)
		})
	}
}

func TestMalformedFrameOnlyClosesItsConnection(t *testing.T) {
	d := newTestDispatcher()
	config := testConfig()
	s := startServer(t, config, d, nil)

	a := connect(t, s.addr, "client-a")
	b := connect(t, s.addr, "client-b")

	// b is parked inside the dispatcher while a misbehaves
	blocked := common.NewMessage(opBlock)
	blocked.TransactionID = 42
	require.NoError(t, b.codec.WriteMessage(b.conn, blocked))
	select {
	case <-d.started:
	case <-time.After(2 * time.Second):
		t.Fatal("request of b was not dispatched")
	}

	// oversized part on a
	require.NoError(t, a.codec.WriteMessage(a.conn, common.NewMessage(opEcho, common.BytesPart(make([]byte, config.MaxPartLength+1)))))
	resp, err := a.codec.ReadMessage(a.r)
	require.NoError(t, err)
	assert.Equal(t, common.ErrCodeBadPart, errorCode(t, resp))
	a.expectClosed(t)

	// the in-flight request of b completes with an intact reply
	close(d.release)
	resp, err = b.codec.ReadMessage(b.r)
	require.NoError(t, err)
	assert.Equal(t, common.OpReply, resp.OpCode)
	assert.EqualValues(t, 42, resp.TransactionID)
	assert.Zero(t, resp.NumParts())

	// b keeps working
	resp = b.call(t, common.NewMessage(opEcho, common.StringPart("still here")))
	assert.Equal(t, common.OpReply, resp.OpCode)
	str, _ := resp.Parts[0].GetString()
	assert.Equal(t, "still here", str)
	id, _ := resp.Parts[1].GetString()
	assert.Equal(t, "client-b", id)

	// and new connections are accepted
	c := connect(t, s.addr, "client-c")
	resp = c.call(t, common.NewMessage(common.OpPing))
	assert.Equal(t, common.OpReply, resp.OpCode)
}

func TestUnknownPartTagClosesConnection(t *testing.T) {
	s := startServer(t, testConfig(), newTestDispatcher(), nil)
	c := connect(t, s.addr, "client-a")

	// header with one part, tag 77
	raw := []byte{0, 0, 0, 100, 0, 0, 0, 1, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 77, 0, 0, 0, 0}
	_, err := c.conn.Write(raw)
	require.NoError(t, err)

	resp, err := c.codec.ReadMessage(c.r)
	require.NoError(t, err)
	assert.Equal(t, common.ErrCodeBadPart, errorCode(t, resp))
	c.expectClosed(t)
}

func TestMaxConnections(t *testing.T) {
	sink := telemetry.NewSink()
	defer sink.Close()
	config := testConfig()
	config.MaxConnections = 1
	s := startServer(t, config, newTestDispatcher(), sink)

	first := connect(t, s.addr, "first")

	second := dialRaw(t, s.addr)
	reply := second.handshake(t, common.V2, "second")
	assert.Equal(t, common.HandshakeRefused, reply.Code)
	assert.True(t, strings.Contains(reply.Reason, "max connections"), reply.Reason)
	second.expectClosed(t)
	assert.EqualValues(t, 1, sink.Rejected())

	// the first connection keeps working
	resp := first.call(t, common.NewMessage(common.OpPing))
	assert.Equal(t, common.OpReply, resp.OpCode)

	// a slot becomes free once the first client leaves
	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool { return s.transport.LiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
	third := connect(t, s.addr, "third")
	resp = third.call(t, common.NewMessage(common.OpPing))
	assert.Equal(t, common.OpReply, resp.OpCode)
}

func TestWorkerPoolQueuesConnections(t *testing.T) {
	d := newTestDispatcher()
	config := testConfig()
	config.MaxThreads = 1
	s := startServer(t, config, d, nil)

	first := connect(t, s.addr, "first")

	// the second connection is admitted but waits for the worker
	second := dialRaw(t, s.addr)
	require.NoError(t, serializer.WriteHandshake(second.conn, serializer.Handshake{Mode: common.HandshakeModeByte, Version: common.V1, ClientID: "second"}))
	require.Eventually(t, func() bool { return s.transport.LiveConnections() == 2 }, 2*time.Second, 10*time.Millisecond)

	_ = second.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err := second.r.ReadByte()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "second connection was served: %v", err)

	// the worker is released when the first connection terminates
	require.NoError(t, first.conn.Close())
	_ = second.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reply, err := serializer.ReadHandshakeReply(second.r, 1<<16)
	require.NoError(t, err)
	assert.True(t, reply.Accepted())
}

func TestIdleTimeout(t *testing.T) {
	config := testConfig()
	config.IdleTimeout = 100 * time.Millisecond
	s := startServer(t, config, newTestDispatcher(), nil)

	c := connect(t, s.addr, "idle")
	c.expectClosed(t)
	assert.Eventually(t, func() bool { return s.transport.LiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownFinishesInFlightRequest(t *testing.T) {
	d := newTestDispatcher()
	s := startServer(t, testConfig(), d, nil)

	busy := connect(t, s.addr, "busy")
	idle := connect(t, s.addr, "idle")

	require.NoError(t, busy.codec.WriteMessage(busy.conn, common.NewMessage(opBlock)))
	<-d.started

	stopped := make(chan error, 1)
	go func() { stopped <- s.stop() }()

	// the idle connection is closed, the server waits for the busy one
	idle.expectClosed(t)
	select {
	case <-stopped:
		t.Fatal("server stopped with a request in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(d.release)
	resp, err := busy.codec.ReadMessage(busy.r)
	require.NoError(t, err)
	assert.Equal(t, common.OpReply, resp.OpCode)
	busy.expectClosed(t)

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Zero(t, s.transport.LiveConnections())
}

func TestTelemetryCountsBytesAndRequests(t *testing.T) {
	sink := telemetry.NewSink()
	defer sink.Close()
	s := startServer(t, testConfig(), newTestDispatcher(), sink)

	c := connect(t, s.addr, "client-a")
	c.call(t, common.NewMessage(common.OpPing))
	c.call(t, common.NewMessage(common.OpCode(999)))
	require.NoError(t, c.conn.Close())

	require.Eventually(t, func() bool { return sink.OpenConnections() == 0 && sink.Accepted() == 1 }, 2*time.Second, 10*time.Millisecond)
	// handshake (3 + 4 + 8) and two empty frames
	assert.EqualValues(t, 15+2*16, sink.BytesRead())
	// handshake reply (3) and two replies
	assert.Greater(t, sink.BytesWritten(), int64(3+16))

	var buf strings.Builder
	sink.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), `dgrid_requests_total{op="ping",status="ok"} 1`)
}
