package server

import (
	"context"
	"math"

	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// --------------------------------------------------------------------------
// Request Helpers
// --------------------------------------------------------------------------

// request is a bound request together with the layout it matched
type request struct {
	*common.Bound
	layout *common.Layout
	msg    *common.Message
}

// bind validates req against the layout of the negotiated version
func bind(req *common.Message, conn transport.IConnection) (*request, error) {
	layout, ok := common.LayoutFor(req.OpCode, conn.Version())
	if !ok {
		return nil, &common.UnsupportedVersionError{OpCode: req.OpCode, Version: conn.Version()}
	}
	b, err := layout.BindRequest(req)
	if err != nil {
		return nil, err
	}
	return &request{Bound: b, layout: layout, msg: req}, nil
}

// region resolves the region named in the request
func (r *request) region(conn transport.IConnection) (store.IRegion, string, error) {
	name, err := r.String(common.FieldRegion, "")
	if err != nil {
		return nil, "", err
	}
	if name == "" {
		return nil, "", common.NewAppError(common.ErrCodeBadPart, "region name must not be empty")
	}
	region, ok := conn.Cache().Region(name)
	if !ok {
		return nil, name, common.NewAppError(common.ErrCodeRegionNotFound, "region %q not found", name)
	}
	return region, name, nil
}

// key returns the key of the request, sent as string or object part
func (r *request) key() (any, error) {
	key, err := r.StringOrObject(common.FieldKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, common.NewAppError(common.ErrCodeBadPart, "key must not be null")
	}
	return key, nil
}

// eventID returns the event id of the request, nil if the client sent none
func (r *request) eventID() (*common.EventID, error) {
	p := r.Part(common.FieldEventID)
	if p == nil || p.IsNull() {
		return nil, nil
	}
	var id common.EventID
	if err := p.GetObjectInto(&id); err != nil {
		return nil, err
	}
	return &id, nil
}

// reply builds the reply of the request from the named parts
func (r *request) reply(fields common.Fields) (*common.Message, error) {
	msg, err := r.layout.BuildReply(r.msg.TransactionID, fields)
	if err != nil {
		return nil, common.WrapAppError(common.ErrCodeInternal, err, "failed to build reply")
	}
	return msg, nil
}

// valuePart returns the object part for a stored value and the matching reply flags
func valuePart(value []byte) (*common.Part, int32) {
	if value == nil {
		return common.NullObjectPart(), 0
	}
	return common.RawObjectPart(value), common.ReplyHasValue
}

// inTransaction runs fn with tx bound to the store's transaction manager
func inTransaction(ctx context.Context, conn transport.IConnection, tx txn.Context, fn func(ctx context.Context) error) error {
	mgr := conn.Cache().TxManager()
	txCtx, err := mgr.Bind(ctx, tx)
	if err != nil {
		return common.WrapAppError(common.ErrCodeInternal, err, "failed to bind %s", tx)
	}
	defer mgr.Unbind(txCtx)
	return fn(txCtx)
}

// --------------------------------------------------------------------------
// Read Commands
// --------------------------------------------------------------------------

func executeGet(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
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
	callbackArg := r.ObjectBytes(common.FieldCallbackArg)

	var value []byte
	err = inTransaction(ctx, conn, tx, func(ctx context.Context) error {
		value, _, err = region.Get(ctx, key, callbackArg)
		return err
	})
	if err != nil {
		return nil, storeError(err, req.OpCode, name)
	}

	part, flags := valuePart(value)
	return r.reply(common.Fields{
		common.FieldFlags: common.IntPart(flags),
		common.FieldValue: part,
	})
}

func executeContainsKey(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
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

	var contains bool
	err = inTransaction(ctx, conn, tx, func(ctx context.Context) error {
		contains, err = region.ContainsKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, storeError(err, req.OpCode, name)
	}
	return r.reply(common.Fields{common.FieldContains: common.BoolPart(contains)})
}

func executeSize(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
	r, err := bind(req, conn)
	if err != nil {
		return nil, err
	}
	region, name, err := r.region(conn)
	if err != nil {
		return nil, err
	}

	var size int
	err = inTransaction(ctx, conn, tx, func(ctx context.Context) error {
		size, err = region.Size(ctx)
		return err
	})
	if err != nil {
		return nil, storeError(err, req.OpCode, name)
	}
	if size > math.MaxInt32 {
		size = math.MaxInt32
	}
	return r.reply(common.Fields{common.FieldSize: common.IntPart(int32(size))})
}

func executePing(_ context.Context, _ txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
	r, err := bind(req, conn)
	if err != nil {
		return nil, err
	}
	return r.reply(nil)
}
