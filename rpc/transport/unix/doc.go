// Package unix implements the Unix domain socket connectors of the cache
// server transport, for clients running on the same machine. The endpoint
// is the socket path, an existing socket file is replaced on Listen.
package unix
