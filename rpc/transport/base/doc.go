// Package base implements the protocol independent part of the cache server
// transport: the acceptor, the per connection state machine and the client
// dialer. Socket specifics are injected through connectors (see the tcp and
// unix packages).
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different socket types.
//
//   - serverTransport: The acceptor. It admits connections up to MaxConnections,
//     refuses the rest with a handshake reply and runs every admitted connection
//     on a worker pool bounded by MaxThreads (golang.org/x/sync/semaphore). Live
//     connections are tracked in an xsync.MapOf.
//
//   - connection: The state machine of one client connection
//     (INIT -> HANDSHAKING -> READY <-> PROCESSING -> TERMINATED). It performs the
//     handshake, then reads one request at a time, dispatches it and writes the
//     reply. Non fatal errors become exception replies, framing and i/o errors
//     terminate the connection.
//
//   - clientTransport: Dials the configured endpoints with retries and
//     exponential backoff.
//
// Shutdown:
//
//	Cancelling the context passed to Serve closes the listener and interrupts
//	the next blocking read of every connection through its read deadline.
//	A request that was read completely is still executed and answered.
//	Serve returns after all connections terminated.
package base
