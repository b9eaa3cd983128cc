// Package transport defines the interfaces between the network layer of the
// cache server and the rest of the system.
//
// Key Components:
//
//   - IRPCServerTransport: the acceptor. It binds a listener, admits
//     connections and runs one connection state machine per client.
//
//   - IConnection: what a command sees of the connection it runs on
//     (negotiated version, client identity, store handle).
//
//   - IDispatcher: executes a decoded request. The server package implements
//     it with the command registry.
//
//   - IRPCClientTransport: opens client connections.
//
// Implementations live in the base package (protocol independent) and are
// specialized by the tcp and unix packages.
package transport
