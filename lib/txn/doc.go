// Package txn defines the transaction context that is bound to each request
// and a reference transaction manager (Manager) that tracks which client
// transactions have requests in flight.
//
// The context travels explicitly: the connection creates a Context from the
// transaction id of the request header, the command binds it to the store
// through IManager.Bind and store implementations read it back with
// FromContext.
package txn
