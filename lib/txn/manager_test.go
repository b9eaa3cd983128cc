package txn

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindCarriesContext(t *testing.T) {
	m := NewManager()
	tx := NewContext(7, "client-a")

	ctx, err := m.Bind(context.Background(), tx)
	require.NoError(t, err)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, tx, got)
	assert.Equal(t, 1, m.InFlight(tx))

	m.Unbind(ctx)
	assert.Equal(t, 0, m.InFlight(tx))
	assert.Equal(t, 0, m.Active())
}

func TestBindWithoutTransaction(t *testing.T) {
	m := NewManager()
	tx := NewContext(-1, "client-a")
	assert.False(t, tx.Active())

	ctx, err := m.Bind(context.Background(), tx)
	require.NoError(t, err)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, NoTx, got.ID)
	assert.Equal(t, 0, m.Active())

	m.Unbind(ctx)
}

func TestBindRejectsNestedForeignTransaction(t *testing.T) {
	m := NewManager()

	ctx, err := m.Bind(context.Background(), NewContext(1, "a"))
	require.NoError(t, err)

	_, err = m.Bind(ctx, NewContext(2, "a"))
	assert.Error(t, err)

	// rebinding the same transaction is fine
	inner, err := m.Bind(ctx, NewContext(1, "a"))
	require.NoError(t, err)
	assert.Equal(t, 2, m.InFlight(NewContext(1, "a")))

	m.Unbind(inner)
	m.Unbind(ctx)
	assert.Equal(t, 0, m.Active())
}

func TestConcurrentBindings(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := NewContext(int32(i%5), "client")
			ctx, err := m.Bind(context.Background(), tx)
			if !assert.NoError(t, err) {
				return
			}
			got, _ := FromContext(ctx)
			assert.Equal(t, tx, got)
			m.Unbind(ctx)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, m.Active())
}
