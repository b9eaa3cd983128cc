package server_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/store/lstore"
	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/client"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/server"
	"github.com/ValentinKolb/dGrid/rpc/telemetry"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/ValentinKolb/dGrid/rpc/transport/tcp"
	"github.com/ValentinKolb/dGrid/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test Helper
// --------------------------------------------------------------------------

type recorder struct {
	mu     sync.Mutex
	events []lstore.Event
}

func (r *recorder) listen(ev lstore.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []lstore.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lstore.Event(nil), r.events...)
}

type testEnv struct {
	server   *server.RPCServer
	cache    *lstore.Cache
	recorder *recorder
	sink     *telemetry.Sink
	config   common.ServerConfig
}

func startServer(t *testing.T, config common.ServerConfig, tr func(telemetry.ISink) transport.IRPCServerTransport) *testEnv {
	t.Helper()
	env := &testEnv{recorder: &recorder{}, sink: telemetry.NewSink(), config: config}
	env.cache = lstore.NewCache(lstore.WithListener(env.recorder.listen))
	_, err := env.cache.CreateRegion("r")
	require.NoError(t, err)

	env.server = server.NewRPCServer(config, tr(env.sink), env.cache,
		server.WithRegistry(server.NewDefaultRegistry(server.NewEventTracker(64))),
		server.WithMetrics(env.sink),
	)
	require.NoError(t, env.server.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
		env.sink.Close()
	})
	return env
}

func startTCPServer(t *testing.T) *testEnv {
	config := common.DefaultServerConfig()
	config.Endpoint = "127.0.0.1:0"
	return startServer(t, config, tcp.NewTCPServerTransport)
}

func connect(t *testing.T, env *testEnv, version common.Version, clientID string) *client.Client {
	t.Helper()
	c, err := client.NewClient(context.Background(), common.ClientConfig{
		Endpoints:       []string{env.server.Addr()},
		TimeoutSecond:   5,
		ClientID:        clientID,
		ProtocolVersion: version,
	}, tcp.NewTCPClientTransport())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func remoteCode(t *testing.T, err error) common.ErrorCode {
	t.Helper()
	var remote *common.RemoteError
	require.True(t, errors.As(err, &remote), "expected a server error, got %v", err)
	return remote.Code
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestV1PutReturnsPreviousValue(t *testing.T) {
	env := startTCPServer(t)
	c := connect(t, env, common.V1, "v1-client")
	ctx := context.Background()
	assert.Equal(t, common.V1, c.Version())

	old, err := c.Put(ctx, "r", "k1", "v1")
	require.NoError(t, err)
	assert.Nil(t, old)

	old, err = c.Put(ctx, "r", "k1", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v1", old)

	value, found, err := c.Get(ctx, "r", "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", value)
}

func TestUnknownOpcodeKeepsConnection(t *testing.T) {
	env := startTCPServer(t)
	c := connect(t, env, common.V2, "client")
	ctx := context.Background()

	reply, err := c.SendRaw(ctx, common.NewMessage(common.OpCode(4711)))
	require.NoError(t, err)
	require.True(t, reply.IsError())
	code, _ := reply.Parts[0].GetInt()
	assert.EqualValues(t, common.ErrCodeUnknownOperation, code)
	assert.Equal(t, common.ErrCodeUnknownOperation, remoteCode(t, common.ErrorFromReply(reply)))

	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, 1, env.server.LiveConnections())
}

func TestVersionGating(t *testing.T) {
	env := startTCPServer(t)
	c := connect(t, env, common.V1, "old-client")
	ctx := context.Background()

	// the client does not send operations its version lacks
	_, err := c.ContainsKey(ctx, "r", "k")
	var unsupported *common.UnsupportedVersionError
	assert.True(t, errors.As(err, &unsupported))

	// and the server refuses them
	reply, err := c.SendRaw(ctx, common.NewMessage(common.OpContainsKey, common.StringPart("r"), common.StringPart("k")))
	require.NoError(t, err)
	assert.Equal(t, common.ErrCodeUnsupportedVersion, remoteCode(t, common.ErrorFromReply(reply)))

	require.NoError(t, c.Ping(ctx))
}

func TestOperations(t *testing.T) {
	env := startTCPServer(t)
	c := connect(t, env, common.V2, "client")
	ctx := context.Background()

	_, err := c.Put(ctx, "r", "counter", int64(1))
	require.NoError(t, err)
	old, err := c.PutDelta(ctx, "r", "counter", int64(9))
	require.NoError(t, err)
	assert.Equal(t, int64(1), old)

	value, found, err := c.Get(ctx, "r", "counter")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(10), value)

	existing, err := c.PutIfAbsent(ctx, "r", "counter", int64(0))
	require.NoError(t, err)
	assert.Equal(t, int64(10), existing)
	existing, err = c.PutIfAbsent(ctx, "r", int64(7), "seven")
	require.NoError(t, err)
	assert.Nil(t, existing)

	contains, err := c.ContainsKey(ctx, "r", int64(7))
	require.NoError(t, err)
	assert.True(t, contains)

	size, err := c.Size(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	existed, err := c.Destroy(ctx, "r", "counter")
	require.NoError(t, err)
	assert.True(t, existed)
	_, found, err = c.Get(ctx, "r", "counter")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = c.PutDelta(ctx, "r", "counter", int64(1))
	assert.Equal(t, common.ErrCodeEntryNotFound, remoteCode(t, err))

	_, _, err = c.Get(ctx, "missing-region", "k")
	assert.Equal(t, common.ErrCodeRegionNotFound, remoteCode(t, err))

	// errors do not break the connection
	require.NoError(t, c.Ping(ctx))
}

func TestHandshakeRejectsUnsupportedVersion(t *testing.T) {
	env := startTCPServer(t)

	_, err := client.NewClient(context.Background(), common.ClientConfig{
		Endpoints:       []string{env.server.Addr()},
		TimeoutSecond:   5,
		ClientID:        "future-client",
		ProtocolVersion: common.Version(9),
	}, tcp.NewTCPClientTransport())

	var he *common.HandshakeError
	require.True(t, errors.As(err, &he), "expected handshake error, got %v", err)
	assert.Equal(t, common.HandshakeInvalid, he.Code)
	assert.EqualValues(t, 1, env.sink.Rejected())
}

func TestConcurrentTransactionsAreScopedPerRequest(t *testing.T) {
	env := startTCPServer(t)

	const clients = 8
	const puts = 25

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		c := connect(t, env, common.V2, fmt.Sprintf("client-%d", i))
		wg.Add(1)
		go func(i int, c *client.Client) {
			defer wg.Done()
			ctx := client.WithTransaction(context.Background(), int32(100+i))
			for j := 0; j < puts; j++ {
				_, err := c.Put(ctx, "r", fmt.Sprintf("%d/%d", i, j), int64(j))
				assert.NoError(t, err)
			}
			// requests without a transaction
			_, err := c.Put(context.Background(), "r", fmt.Sprintf("%d/none", i), int64(-1))
			assert.NoError(t, err)
		}(i, c)
	}
	wg.Wait()

	events := env.recorder.snapshot()
	require.Len(t, events, clients*(puts+1))
	for _, ev := range events {
		var i int
		var rest string
		_, err := fmt.Sscanf(ev.Key.(string), "%d/%s", &i, &rest)
		require.NoError(t, err)

		want := txn.Context{ID: txn.ID(100 + i), ClientID: fmt.Sprintf("client-%d", i)}
		if rest == "none" {
			want.ID = txn.NoTx
		}
		assert.Equal(t, want, ev.Tx, "key %s", ev.Key)
	}
	assert.Zero(t, env.cache.TxManager().(*txn.Manager).Active())
}

func TestServeOverUnixSocket(t *testing.T) {
	config := common.DefaultServerConfig()
	config.Transport = "unix"
	config.Endpoint = filepath.Join(t.TempDir(), "grid.sock")
	env := startServer(t, config, unix.NewUnixServerTransport)

	c, err := client.NewClient(context.Background(), common.ClientConfig{
		Endpoints:     []string{config.Endpoint},
		TimeoutSecond: 5,
		ClientID:      "unix-client",
	}, unix.NewUnixClientTransport())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Put(ctx, "r", "k", "over unix")
	require.NoError(t, err)
	value, _, err := c.Get(ctx, "r", "k")
	require.NoError(t, err)
	assert.Equal(t, "over unix", value)
	assert.Equal(t, 1, env.server.LiveConnections())
}
