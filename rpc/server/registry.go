package server

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ValentinKolb/dGrid/lib/txn"
	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/ValentinKolb/dGrid/rpc/transport"
)

// registration binds a command to an opcode for a range of versions
type registration struct {
	minVersion common.Version
	maxVersion common.Version
	cmd        ICommand
}

// Registry maps (opcode, version) to commands. It is immutable once built
// and safe for concurrent lookups without locking.
type Registry struct {
	commands map[common.OpCode][]registration
}

// RegistryBuilder collects registrations. Use NewRegistryBuilder to create one.
type RegistryBuilder struct {
	commands map[common.OpCode][]registration
	err      error
}

// NewRegistryBuilder creates an empty builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{commands: make(map[common.OpCode][]registration)}
}

// Register adds cmd for op in the versions min..max (inclusive).
// Overlapping registrations for the same opcode make Build fail.
func (b *RegistryBuilder) Register(op common.OpCode, min, max common.Version, cmd ICommand) *RegistryBuilder {
	if b.err != nil {
		return b
	}
	if cmd == nil || min > max {
		b.err = fmt.Errorf("invalid registration for %s [%s..%s]", op, min, max)
		return b
	}
	for _, r := range b.commands[op] {
		if min <= r.maxVersion && r.minVersion <= max {
			b.err = fmt.Errorf("registration for %s [%s..%s] overlaps [%s..%s]", op, min, max, r.minVersion, r.maxVersion)
			return b
		}
	}
	b.commands[op] = append(b.commands[op], registration{minVersion: min, maxVersion: max, cmd: cmd})
	return b
}

// Build returns the immutable registry
func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	commands := make(map[common.OpCode][]registration, len(b.commands))
	for op, regs := range b.commands {
		commands[op] = slices.Clone(regs)
	}
	return &Registry{commands: commands}, nil
}

// Resolve returns the command registered for op in version v
func (r *Registry) Resolve(op common.OpCode, v common.Version) (ICommand, error) {
	regs, ok := r.commands[op]
	if !ok {
		return nil, &common.UnknownOperationError{OpCode: op}
	}
	for _, reg := range regs {
		if v >= reg.minVersion && v <= reg.maxVersion {
			return reg.cmd, nil
		}
	}
	return nil, &common.UnsupportedVersionError{OpCode: op, Version: v}
}

// OpCodes returns all registered opcodes in ascending order
func (r *Registry) OpCodes() []common.OpCode {
	ops := make([]common.OpCode, 0, len(r.commands))
	for op := range r.commands {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// Dispatch implements transport.IDispatcher. The command is resolved with the
// version the connection negotiated.
func (r *Registry) Dispatch(ctx context.Context, tx txn.Context, req *common.Message, conn transport.IConnection) (*common.Message, error) {
	cmd, err := r.Resolve(req.OpCode, conn.Version())
	if err != nil {
		return nil, err
	}
	return cmd.Execute(ctx, tx, req, conn)
}

// --------------------------------------------------------------------------
// Default Registry
// --------------------------------------------------------------------------

// NewDefaultRegistry builds a registry with all cache operations.
// Retried writes are detected with events.
func NewDefaultRegistry(events *EventTracker) *Registry {
	reg, err := NewRegistryBuilder().
		Register(common.OpGet, common.V1, common.V2, CommandFunc(executeGet)).
		Register(common.OpPing, common.V1, common.V2, CommandFunc(executePing)).
		Register(common.OpPut, common.V1, common.V2, &putCommand{events: events}).
		Register(common.OpDestroy, common.V1, common.V2, &destroyCommand{events: events}).
		Register(common.OpContainsKey, common.V2, common.V2, CommandFunc(executeContainsKey)).
		Register(common.OpSize, common.V2, common.V2, CommandFunc(executeSize)).
		Build()
	if err != nil {
		panic(err)
	}
	return reg
}

// DefaultRegistry returns the process wide registry with all cache operations
var DefaultRegistry = sync.OnceValue(func() *Registry {
	return NewDefaultRegistry(NewEventTracker(DefaultEventsPerClient))
})
