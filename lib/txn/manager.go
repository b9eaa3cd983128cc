package txn

import (
	"context"
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("store")

type bindingKey struct {
	clientID string
	id       ID
}

// Manager is the reference transaction manager. It keeps track of the
// transactions that are bound to in-flight requests.
type Manager struct {
	bound *xsync.MapOf[bindingKey, int]
}

// NewManager creates a new transaction manager
func NewManager() *Manager {
	return &Manager{
		bound: xsync.NewMapOf[bindingKey, int](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see txn/interface.go)
// --------------------------------------------------------------------------

func (m *Manager) Bind(ctx context.Context, tx Context) (context.Context, error) {
	if prev, ok := FromContext(ctx); ok && prev.Active() && prev != tx {
		return nil, fmt.Errorf("cannot bind %s: context already carries %s", tx, prev)
	}
	if tx.Active() {
		m.bound.Compute(bindingKey{tx.ClientID, tx.ID}, func(n int, _ bool) (int, bool) {
			return n + 1, false
		})
		Logger.Debugf("bound %s", tx)
	}
	return WithContext(ctx, tx), nil
}

func (m *Manager) Unbind(ctx context.Context) {
	tx, ok := FromContext(ctx)
	if !ok || !tx.Active() {
		return
	}
	m.bound.Compute(bindingKey{tx.ClientID, tx.ID}, func(n int, loaded bool) (int, bool) {
		if !loaded || n <= 1 {
			return 0, true
		}
		return n - 1, false
	})
	Logger.Debugf("unbound %s", tx)
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

// InFlight returns the number of requests currently bound to tx
func (m *Manager) InFlight(tx Context) int {
	n, _ := m.bound.Load(bindingKey{tx.ClientID, tx.ID})
	return n
}

// Active returns the number of distinct transactions with bound requests
func (m *Manager) Active() int {
	return m.bound.Size()
}
