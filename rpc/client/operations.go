package client

import (
	"context"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

// --------------------------------------------------------------------------
// Cache Operations
// --------------------------------------------------------------------------

// Put stores value under key and returns the previous value (nil if none)
func (c *Client) Put(ctx context.Context, region string, key, value any) (any, error) {
	return c.put(ctx, common.OpKindUpdate, false, region, key, value)
}

// PutIfAbsent stores value only if key has no value yet. It returns the
// existing value, nil if value was stored.
func (c *Client) PutIfAbsent(ctx context.Context, region string, key, value any) (any, error) {
	return c.put(ctx, common.OpKindPutIfAbsent, false, region, key, value)
}

// PutDelta applies delta to the value of key and returns the value before
func (c *Client) PutDelta(ctx context.Context, region string, key, delta any) (any, error) {
	return c.put(ctx, common.OpKindUpdate, true, region, key, delta)
}

func (c *Client) put(ctx context.Context, kind common.OpKind, isDelta bool, region string, key, value any) (any, error) {
	keyPart, err := keyPart(key)
	if err != nil {
		return nil, err
	}
	valuePart, err := common.ObjectPart(value)
	if err != nil {
		return nil, err
	}
	eventPart, err := common.ObjectPart(c.NextEventID())
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, common.OpPut, common.Fields{
		common.FieldRegion:      common.StringPart(region),
		common.FieldOperation:   common.IntPart(int32(kind)),
		common.FieldFlags:       common.IntPart(common.PutRequireOldValue),
		common.FieldKey:         keyPart,
		common.FieldIsDelta:     common.BoolPart(isDelta),
		common.FieldValue:       valuePart,
		common.FieldEventID:     eventPart,
		common.FieldCallbackArg: common.NullObjectPart(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Object(common.FieldOldValue)
}

// Get returns the value of key and whether it exists
func (c *Client) Get(ctx context.Context, region string, key any) (any, bool, error) {
	keyPart, err := keyPart(key)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.call(ctx, common.OpGet, common.Fields{
		common.FieldRegion:      common.StringPart(region),
		common.FieldKey:         keyPart,
		common.FieldCallbackArg: common.NullObjectPart(),
	})
	if err != nil {
		return nil, false, err
	}
	value, err := resp.Object(common.FieldValue)
	if err != nil {
		return nil, false, err
	}
	flags, err := resp.Int(common.FieldFlags, 0)
	if err != nil {
		return nil, false, err
	}
	return value, value != nil || flags&common.ReplyHasValue != 0, nil
}

// Destroy removes key and reports whether it existed
func (c *Client) Destroy(ctx context.Context, region string, key any) (bool, error) {
	keyPart, err := keyPart(key)
	if err != nil {
		return false, err
	}
	eventPart, err := common.ObjectPart(c.NextEventID())
	if err != nil {
		return false, err
	}
	resp, err := c.call(ctx, common.OpDestroy, common.Fields{
		common.FieldRegion:      common.StringPart(region),
		common.FieldKey:         keyPart,
		common.FieldEventID:     eventPart,
		common.FieldCallbackArg: common.NullObjectPart(),
	})
	if err != nil {
		return false, err
	}
	return resp.Bool(common.FieldExisted, false)
}

// ContainsKey reports whether key exists
func (c *Client) ContainsKey(ctx context.Context, region string, key any) (bool, error) {
	keyPart, err := keyPart(key)
	if err != nil {
		return false, err
	}
	resp, err := c.call(ctx, common.OpContainsKey, common.Fields{
		common.FieldRegion: common.StringPart(region),
		common.FieldKey:    keyPart,
	})
	if err != nil {
		return false, err
	}
	return resp.Bool(common.FieldContains, false)
}

// Size returns the number of entries of region
func (c *Client) Size(ctx context.Context, region string) (int, error) {
	resp, err := c.call(ctx, common.OpSize, common.Fields{
		common.FieldRegion: common.StringPart(region),
	})
	if err != nil {
		return 0, err
	}
	size, err := resp.Int(common.FieldSize, 0)
	return int(size), err
}

// Ping checks that the server answers
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, common.OpPing, nil)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// call builds the request of op for the negotiated version, sends it and
// binds the reply
func (c *Client) call(ctx context.Context, op common.OpCode, fields common.Fields) (*common.Bound, error) {
	version := c.Version()
	if version == common.VersionUnknown {
		version = c.config.ProtocolVersion
	}
	layout, ok := common.LayoutFor(op, version)
	if !ok {
		return nil, &common.UnsupportedVersionError{OpCode: op, Version: version}
	}
	req, err := layout.BuildRequest(fields)
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OpCode != common.OpReply {
		return nil, common.NewFramingError("unexpected reply opcode %s to %s", resp.OpCode, op)
	}
	return layout.BindReply(resp)
}

// keyPart sends string keys as string parts and everything else as object
func keyPart(key any) (*common.Part, error) {
	if s, ok := key.(string); ok {
		return common.StringPart(s), nil
	}
	return common.ObjectPart(key)
}
