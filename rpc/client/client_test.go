package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/serializer"
	"github.com/ValentinKolb/dGrid/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Helper
// --------------------------------------------------------------------------

// scriptedServer accepts connections, answers the handshake and hands every
// request to handle. A nil reply closes the connection without answering.
// With detached set, exception replies are sent without a transaction.
type scriptedServer struct {
	listener net.Listener
	handle   func(conn int, req *common.Message) *common.Message

	mu        sync.Mutex
	detached  bool
	requests  []*common.Message
	handshake []serializer.Handshake
}

func startScripted(t *testing.T, handle func(conn int, req *common.Message) *common.Message) *scriptedServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &scriptedServer{listener: l, handle: handle}
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for n := 0; ; n++ {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.serve(n, conn)
		}
	}()
	return s
}

func (s *scriptedServer) serve(n int, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	codec := serializer.NewBinarySerializer(serializer.DefaultLimits())

	hs, err := serializer.ReadHandshake(r, 1<<16)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.handshake = append(s.handshake, *hs)
	s.mu.Unlock()
	if err := serializer.WriteHandshakeReply(conn, serializer.HandshakeReply{Code: common.HandshakeOK, Version: hs.Version}); err != nil {
		return
	}

	for {
		req, err := codec.ReadMessage(r)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		detached := s.detached
		s.mu.Unlock()

		reply := s.handle(n, req)
		if reply == nil {
			return
		}
		if !detached || !reply.IsError() {
			reply.TransactionID = req.TransactionID
		}
		if err := codec.WriteMessage(conn, reply); err != nil {
			return
		}
	}
}

func (s *scriptedServer) config() common.ClientConfig {
	return common.ClientConfig{
		Endpoints:     []string{s.listener.Addr().String()},
		TimeoutSecond: 5,
		RetryCount:    2,
		ClientID:      "scripted",
	}
}

func pingReply(int, *common.Message) *common.Message {
	return common.NewMessage(common.OpReply)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestDefaults(t *testing.T) {
	config := withDefaults(common.ClientConfig{})
	assert.Equal(t, common.VersionCurrent, config.ProtocolVersion)
	assert.Equal(t, common.DefaultMaxParts, config.MaxParts)
	assert.Equal(t, common.DefaultMaxPartLength, config.MaxPartLength)
	assert.NotEmpty(t, config.ClientID)

	config = withDefaults(common.ClientConfig{ClientID: "me", ProtocolVersion: common.V1})
	assert.Equal(t, "me", config.ClientID)
	assert.Equal(t, common.V1, config.ProtocolVersion)
}

func TestTransactionContext(t *testing.T) {
	assert.Equal(t, common.NoTransaction, transactionOf(context.Background()))
	assert.EqualValues(t, 12, transactionOf(WithTransaction(context.Background(), 12)))
}

func TestHandshakeAndTransactionID(t *testing.T) {
	s := startScripted(t, pingReply)
	c, err := NewClient(context.Background(), s.config(), tcp.NewTCPClientTransport())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, common.VersionCurrent, c.Version())
	require.NoError(t, c.Ping(WithTransaction(context.Background(), 5)))
	require.NoError(t, c.Ping(context.Background()))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.handshake, 1)
	assert.Equal(t, "scripted", s.handshake[0].ClientID)
	assert.Equal(t, common.HandshakeModeByte, s.handshake[0].Mode)
	require.Len(t, s.requests, 2)
	assert.EqualValues(t, 5, s.requests[0].TransactionID)
	assert.Equal(t, common.NoTransaction, s.requests[1].TransactionID)
}

func TestEventIDsAreUnique(t *testing.T) {
	s := startScripted(t, pingReply)
	c, err := NewClient(context.Background(), s.config(), tcp.NewTCPClientTransport())
	require.NoError(t, err)
	defer c.Close()

	a, b := c.NextEventID(), c.NextEventID()
	assert.Equal(t, a.ThreadID, b.ThreadID)
	assert.Equal(t, a.SequenceID+1, b.SequenceID)
}

func TestRetryAfterLostReply(t *testing.T) {
	// the first connection drops the first put, the second one answers
	s := startScripted(t, func(conn int, req *common.Message) *common.Message {
		if conn == 0 && req.OpCode == common.OpPut {
			return nil
		}
		return common.NewMessage(common.OpReply, common.IntPart(0), common.NullObjectPart())
	})
	c, err := NewClient(context.Background(), s.config(), tcp.NewTCPClientTransport())
	require.NoError(t, err)
	defer c.Close()

	old, err := c.Put(context.Background(), "r", "k", "v")
	require.NoError(t, err)
	assert.Nil(t, old)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.requests, 2)
	first, retry := s.requests[0], s.requests[1]
	assert.False(t, first.Flags.Has(common.FlagIsRetry))
	assert.True(t, retry.Flags.Has(common.FlagIsRetry))
	// the retry reuses the event id
	assert.True(t, first.Parts[6].Equal(retry.Parts[6]))
	assert.Len(t, s.handshake, 2)
}

func TestNoRetryOnServerError(t *testing.T) {
	s := startScripted(t, func(int, *common.Message) *common.Message {
		return common.NewErrorReply(common.NewAppError(common.ErrCodeRegionNotFound, "region %q not found", "r"), 0)
	})
	c, err := NewClient(context.Background(), s.config(), tcp.NewTCPClientTransport())
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.Get(context.Background(), "r", "k")
	var remote *common.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, common.ErrCodeRegionNotFound, remote.Code)
	var appErr *common.ApplicationError
	assert.True(t, errors.As(err, &appErr))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.requests, 1)
}

func TestExceptionWithoutTransaction(t *testing.T) {
	s := startScripted(t, func(int, *common.Message) *common.Message {
		return common.NewErrorReply(common.NewAppError(common.ErrCodeBadPart, "part 3 exceeds the maximum length"), common.NoTransaction)
	})
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
	c, err := NewClient(context.Background(), s.config(), tcp.NewTCPClientTransport())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Put(WithTransaction(context.Background(), 9), "r", "k", "v")
	var remote *common.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, common.ErrCodeBadPart, remote.Code)
	assert.Contains(t, remote.Msg, "maximum length")

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.requests, 1)
	assert.EqualValues(t, 9, s.requests[0].TransactionID)
	assert.False(t, s.requests[0].Flags.Has(common.FlagIsRetry))
}

func TestRetriesExhausted(t *testing.T) {
	s := startScripted(t, func(int, *common.Message) *common.Message { return nil })
	config := s.config()
	config.RetryCount = 1
	c, err := NewClient(context.Background(), config, tcp.NewTCPClientTransport())
	require.NoError(t, err)
	defer c.Close()

	err = c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestContextCancelsRequest(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	s := startScripted(t, func(int, *common.Message) *common.Message {
		<-block
		return common.NewMessage(common.OpReply)
	})
	c, err := NewClient(context.Background(), s.config(), tcp.NewTCPClientTransport())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = c.Ping(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
