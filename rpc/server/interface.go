package server

import (
	"context"

	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
)

// ICommand is the interface for all operation handlers.
// A command is registered once and shared by all connections, so it must not
// keep a reference to the request or the connection after Execute returns.
type ICommand interface {
	// Execute runs the operation of req and returns the reply.
	// tx is the transaction context of the request. Returned errors are sent
	// to the client as exception replies, the connection stays usable.
	Execute(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error)
}

// CommandFunc adapts a function to ICommand
type CommandFunc func(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error)

func (f CommandFunc) Execute(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
	return f(ctx, tx, req, conn)
}
