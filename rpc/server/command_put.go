package server

import (
	"context"

	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
)

// putCommand stores a value, applies a delta or puts if absent.
//
// V1 requests always get the previous value back. V2 requests carry an
// operation kind and flags, the previous value is only returned if
// PutRequireOldValue is set.
type putCommand struct {
	events *EventTracker
}

func (c *putCommand) Execute(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
	r, err := bind(req, conn)
	if err != nil {
		return nil, err
	}

	region, name, err := r.region(conn)
	if err != nil {
		return nil, err
	}
	operation, err := r.Int(common.FieldOperation, int32(common.OpKindUpdate))
	if err != nil {
		return nil, err
	}
	flags, err := r.Int(common.FieldFlags, common.PutRequireOldValue)
	if err != nil {
		return nil, err
	}
	key, err := r.key()
	if err != nil {
		return nil, err
	}
	isDelta, err := r.Bool(common.FieldIsDelta, false)
	if err != nil {
		return nil, err
	}
	eventID, err := r.eventID()
	if err != nil {
		return nil, err
	}
	value := r.ObjectBytes(common.FieldValue)
	callbackArg := r.ObjectBytes(common.FieldCallbackArg)

	kind := common.OpKind(operation)
	switch kind {
	case common.OpKindUpdate, common.OpKindCreate, common.OpKindPutIfAbsent:
	default:
		return nil, common.NewAppError(common.ErrCodeBadPart, "unknown put operation %d", operation)
	}
	if isDelta {
		if kind == common.OpKindPutIfAbsent {
			return nil, common.NewAppError(common.ErrCodeBadPart, "a delta can not be put if absent")
		}
		if value == nil {
			return nil, common.NewAppError(common.ErrCodeBadPart, "delta put without delta")
		}
	}

	// a retried put that was already applied returns the recorded result
	if eventID != nil && req.Flags.Has(common.FlagIsRetry) {
		if res, ok := c.events.Lookup(conn.ClientID(), *eventID); ok {
			Logger.Debugf("put %s from %s was already applied, not applying retry", eventID, conn.ClientID())
			return putReply(r, flags, res.OldValue)
		}
	}

	var old []byte
	err = inTransaction(ctx, conn, tx, func(ctx context.Context) error {
		switch {
		case isDelta:
			old, err = region.ApplyDelta(ctx, key, value, callbackArg)
		case kind == common.OpKindPutIfAbsent:
			old, err = region.PutIfAbsent(ctx, key, value, callbackArg)
		default:
			old, err = region.Put(ctx, key, value, callbackArg)
		}
		return err
	})
	if err != nil {
		return nil, storeError(err, req.OpCode, name)
	}

	if eventID != nil {
		c.events.Record(conn.ClientID(), *eventID, EventResult{OldValue: old})
	}
	return putReply(r, flags, old)
}

func putReply(r *request, flags int32, old []byte) (*common.Message, error) {
	if flags&common.PutRequireOldValue == 0 {
		old = nil
	}
	part, replyFlags := valuePart(old)
	return r.reply(common.Fields{
		common.FieldFlags:    common.IntPart(replyFlags),
		common.FieldOldValue: part,
	})
}
