// Package client implements a protocol client for the cache server. It is
// used by the command line tool and by the end to end tests of the server.
//
// Key Components:
//
//   - Client: One connection to a server. NewClient dials through an
//     IRPCClientTransport and performs the handshake; the version accepted by
//     the server decides the request layouts. Put, PutIfAbsent, PutDelta, Get,
//     Destroy, ContainsKey, Size and Ping map onto the corresponding opcodes,
//     SendRaw sends a prepared message unchanged.
//
//   - WithTransaction: Runs the requests made with the returned context in a
//     client transaction.
//
// Retries:
//
//	Requests that fail with an i/o or framing error are resent on a fresh
//	connection with the retry flag set, up to RetryCount times. Writes keep
//	their event id, so the server does not apply them twice.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:40404"},
//	  TimeoutSecond: 5,
//	  RetryCount:    2,
//	}
//
//	c, err := client.NewClient(ctx, config, tcp.NewTCPClientTransport())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	old, _ := c.Put(ctx, "orders", "o-1", map[string]any{"qty": 3})
//	value, ok, _ := c.Get(ctx, "orders", "o-1")
//
// Errors reported by the server are returned as *common.RemoteError and can
// be matched with errors.As against the common error types.
//
// Thread Safety:
//
//	A Client is safe for concurrent use, requests are sent one at a time.
package client
