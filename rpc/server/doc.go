// Package server implements the command side of the cache server: the
// registry that maps (opcode, protocol version) to a command, the commands
// themselves and the RPCServer that wires a transport, a store and the
// registry together.
//
// Key Components:
//
//   - ICommand: Interface of an operation handler. Commands are stateless,
//     they bind the request to the layout of the negotiated version, run the
//     operation against the region with the request's transaction bound to
//     the store's transaction manager and build the reply.
//
//   - Registry: Immutable (opcode, version range) -> command table, built with
//     a RegistryBuilder. Resolve distinguishes unknown opcodes from opcodes
//     that exist but are not available in the negotiated version.
//     DefaultRegistry registers get, ping, put, destroy, containsKey and size.
//
//   - EventTracker: Remembers the results of recent writes per client, so a
//     put or destroy resent with the retry flag is not applied twice.
//     Idle clients expire after a ttl, the number of clients and the bytes
//     kept per client are capped.
//
//   - RPCServer: Registers store and registry with the transport, serves the
//     telemetry endpoint and runs the accept loop.
//
// Usage Example:
//
//	cache := lstore.NewCache()
//	_, _ = cache.CreateRegion("orders")
//
//	sink := telemetry.NewSink()
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(sink), cache, server.WithMetrics(sink))
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Errors returned by commands are sent to the client as exception replies
// (see common.NewErrorReply), store errors are mapped onto error codes first.
package server
