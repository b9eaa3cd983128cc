// Package tcp implements the TCP socket connectors of the cache server
// transport. The acceptor, the connection state machine and the dialer
// live in the base package, this package only creates sockets and applies
// socket options (TCP_NODELAY, buffer sizes, keep-alive).
//
// Key Components:
//
//   - serverConnector: TCP implementation of base.IServerConnector
//
//   - clientConnector: TCP implementation of base.IClientConnector
package tcp
