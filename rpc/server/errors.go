package server

import (
	"github.com/ValentinKolb/dGrid/lib/store"
	"github.com/ValentinKolb/dGrid/rpc/common"
)

// storeError maps an error returned by a region onto an application error
func storeError(err error, op common.OpCode, region string) error {
	var code common.ErrorCode
	switch store.CodeOf(err) {
	case store.RetCDeltaFailed:
		code = common.ErrCodeDeltaFailed
	case store.RetCEntryNotFound:
		code = common.ErrCodeEntryNotFound
	case store.RetCInvalidKey:
		code = common.ErrCodeTypeMismatch
	case store.RetCInvalidOperation, store.RetCUnsupportedOperation:
		code = common.ErrCodeBadPart
	default:
		code = common.ErrCodeInternal
	}
	return common.WrapAppError(code, err, "%s on region %q failed", op, region)
}
