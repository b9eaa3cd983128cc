// Package rpc contains the client-facing wire-protocol engine of the cache
// server. It accepts client connections, negotiates a protocol version,
// decodes binary requests, dispatches them to operation handlers against the
// store and encodes the replies.
//
// The package is organized into several subpackages:
//
//   - common: The message model (opcodes, typed parts, versions), the per
//     version part layouts, the error taxonomy, configuration and logging.
//
//   - serializer: The frame codec and the handshake codec.
//
//   - transport: The acceptor and the connection state machine (base) with
//     pluggable socket connectors (TCP, Unix sockets).
//
//   - server: The command registry, the operation handlers and the server
//     that wires transport, store and registry together.
//
//   - client: A protocol client used by the command line tool and the tests.
//
//   - telemetry: The sink for connection and request events, exposed in
//     prometheus format.
package rpc
