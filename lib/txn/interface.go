package txn

import (
	"context"
	"fmt"
)

// --------------------------------------------------------------------------
// Transaction Context
// --------------------------------------------------------------------------

// ID identifies a client transaction. It is unique per client only.
type ID int32

// NoTx marks operations that do not run inside a transaction
const NoTx ID = -1

// Context is the transaction context of one request on one connection.
// It is passed explicitly to the command and bound to the store for the
// duration of the call, it is never stored globally.
type Context struct {
	ID       ID
	ClientID string
}

// NewContext creates the transaction context of a request
func NewContext(id int32, clientID string) Context {
	return Context{ID: ID(id), ClientID: clientID}
}

// Active reports whether the context refers to a transaction
func (c Context) Active() bool {
	return c.ID != NoTx
}

func (c Context) String() string {
	if !c.Active() {
		return fmt.Sprintf("no-tx(%s)", c.ClientID)
	}
	return fmt.Sprintf("tx(%s/%d)", c.ClientID, c.ID)
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IManager binds transaction contexts to the store operations of a request.
type IManager interface {
	// Bind returns a derived context that carries tx. Store operations called
	// with that context run in the transaction. Every successful Bind must be
	// followed by exactly one Unbind with the returned context.
	Bind(ctx context.Context, tx Context) (context.Context, error)
	// Unbind releases the binding created by Bind
	Unbind(ctx context.Context)
}

// --------------------------------------------------------------------------
// Context Helper
// --------------------------------------------------------------------------

type ctxKey struct{}

// WithContext returns a context carrying tx
func WithContext(ctx context.Context, tx Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// FromContext returns the transaction context bound to ctx
func FromContext(ctx context.Context) (Context, bool) {
	tx, ok := ctx.Value(ctxKey{}).(Context)
	return tx, ok
}
