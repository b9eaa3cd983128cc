package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IConnection is the view commands get of the connection a request arrived on.
// The version and the client id are fixed once the handshake completed.
type IConnection interface {
	// ID is unique per server instance
	ID() uint64
	// Version returns the negotiated protocol version
	Version() common.Version
	// ClientID returns the identity the client sent in the handshake
	ClientID() string
	// Cache returns the store handle the connection serves
	Cache() store.ICache
	// RemoteAddr returns the address of the client
	RemoteAddr() net.Addr
}

// IDispatcher executes one request and returns the reply. Non fatal errors
// are returned as error and reported to the client by the transport, the
// connection stays usable.
type IDispatcher interface {
	Dispatch(ctx context.Context, tx txn.Context, req *common.Message, conn IConnection) (*common.Message, error)
}

// DispatchFunc adapts a function to IDispatcher
type DispatchFunc func(ctx context.Context, tx txn.Context, req *common.Message, conn IConnection) (*common.Message, error)

func (f DispatchFunc) Dispatch(ctx context.Context, tx txn.Context, req *common.Message, conn IConnection) (*common.Message, error) {
	return f(ctx, tx, req, conn)
}

// IRPCServerTransport is the interface of the acceptor
type IRPCServerTransport interface {
	// Register sets the store handle and the dispatcher. It must be called before Serve.
	Register(cache store.ICache, dispatcher IDispatcher)
	// Listen binds the listener, bind failures are returned
	Listen(config common.ServerConfig) error
	// Serve accepts connections until ctx is cancelled. It returns after all
	// connections terminated.
	Serve(ctx context.Context) error
	// Addr returns the address of the listener, nil before Listen
	Addr() net.Addr
	// LiveConnections returns the number of admitted connections that did not terminate yet
	LiveConnections() int
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport opens connections to a cache server
type IRPCClientTransport interface {
	// Dial connects to the first reachable endpoint of the configuration
	Dial(ctx context.Context, config common.ClientConfig) (net.Conn, error)
}
