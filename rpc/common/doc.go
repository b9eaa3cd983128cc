// Package common provides the data structures shared by the codec, the
// server and the client of the cache protocol.
//
// Key Components:
//
//   - Message and Part: a framed message is a header (opcode, transaction id,
//     flags) followed by a variable number of typed parts. Object parts keep
//     their encoded bytes and are decoded lazily on first typed access.
//
//   - Layout: the per opcode table that fixes count, order and kinds of the
//     request and reply parts for a range of protocol versions. Commands bind
//     requests through their layout and build replies with it, the codec
//     itself never needs to know about versions.
//
//   - Errors: the error taxonomy. FramingError, IOError and HandshakeError
//     terminate a connection, all other errors are reported to the client in
//     an exception reply (see NewErrorReply and ErrorFromReply).
//
//   - ServerConfig and ClientConfig: configuration with defaults and
//     human readable renderers.
//
//   - Logger: custom logging implementation that plugs into dragonboat's
//     logger package, so all packages log with the same format.
package common
