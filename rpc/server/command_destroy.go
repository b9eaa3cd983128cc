package server

import (
	"context"

	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
)

// destroyCommand removes a key and reports whether it existed
type destroyCommand struct {
	events *EventTracker
}

func (c *destroyCommand) Execute(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
	r, err := bind(req, conn)
	if err != nil {
		return nil, err
	}
	region, name, err := r.region(conn)
	if err != nil {
		return nil, err
	}
	key, err := r.key()
	if err != nil {
		return nil, err
	}
	eventID, err := r.eventID()
	if err != nil {
		return nil, err
	}
	callbackArg := r.ObjectBytes(common.FieldCallbackArg)

	if eventID != nil && req.Flags.Has(common.FlagIsRetry) {
		if res, ok := c.events.Lookup(conn.ClientID(), *eventID); ok {
			return r.reply(common.Fields{common.FieldExisted: common.BoolPart(res.Existed)})
		}
	}

	var existed bool
	err = inTransaction(ctx, conn, tx, func(ctx context.Context) error {
		existed, err = region.Remove(ctx, key, callbackArg)
		return err
	})
	if err != nil {
		return nil, storeError(err, req.OpCode, name)
	}

	if eventID != nil {
		c.events.Record(conn.ClientID(), *eventID, EventResult{Existed: existed})
	}
	return r.reply(common.Fields{common.FieldExisted: common.BoolPart(existed)})
}
