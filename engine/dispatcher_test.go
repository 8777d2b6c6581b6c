package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpcore/matchengine/storage"
)

func TestDispatcherProcessesSubmittedOrderToCompletion(t *testing.T) {
	e, store := testEngine(t)
	mustSeedContract(t, store, "BTC-PERP", "0.001")

	acct := uuid.New()
	mustSeedBalance(t, store, acct, "1000")

	order := queuedOrder(acct, "BTC-PERP", storage.SideLong, storage.OrderTypeLimit, "100", "1", 10)
	saveQueued(t, store, order)

	d := NewDispatcher(e)
	d.Submit(order.Symbol, order.ID)

	require.Eventually(t, func() bool {
		loaded := loadOrder(t, store, order.ID)
		return loaded.Status == storage.OrderStatusPlaced
	}, time.Second, 5*time.Millisecond)

	d.Stop()
}

func TestDispatcherSerializesSameSymbolAcrossTwoOrders(t *testing.T) {
	e, store := testEngine(t)
	mustSeedContract(t, store, "BTC-PERP", "0.001")

	makerAccount, takerAccount := uuid.New(), uuid.New()
	mustSeedBalance(t, store, makerAccount, "1000")
	mustSeedBalance(t, store, takerAccount, "1000")

	maker := queuedOrder(makerAccount, "BTC-PERP", storage.SideShort, storage.OrderTypeLimit, "100", "1", 10)
	taker := queuedOrder(takerAccount, "BTC-PERP", storage.SideLong, storage.OrderTypeLimit, "101", "1", 10)
	saveQueued(t, store, maker)
	saveQueued(t, store, taker)

	d := NewDispatcher(e)
	d.Submit("BTC-PERP", maker.ID)
	d.Submit("BTC-PERP", taker.ID)

	require.Eventually(t, func() bool {
		m := loadOrder(t, store, maker.ID)
		k := loadOrder(t, store, taker.ID)
		return m.Status == storage.OrderStatusFilled && k.Status == storage.OrderStatusFilled
	}, time.Second, 5*time.Millisecond)

	d.Stop()
}

func TestDispatcherStopDrainsWithoutPanicking(t *testing.T) {
	e, _ := testEngine(t)
	d := NewDispatcher(e)
	d.Stop()
}

func TestDispatcherDropsEventsOnHaltedSymbol(t *testing.T) {
	e, store := testEngine(t)
	mustSeedContract(t, store, "BTC-PERP", "0.001")

	acct := uuid.New()
	mustSeedBalance(t, store, acct, "1000")
	order := queuedOrder(acct, "BTC-PERP", storage.SideLong, storage.OrderTypeLimit, "100", "1", 10)
	saveQueued(t, store, order)

	e.halts.Trip("BTC-PERP", "test halt")

	d := NewDispatcher(e)
	d.Submit("BTC-PERP", order.ID)
	time.Sleep(100 * time.Millisecond) // give the worker a chance to observe the halt and drop the event
	d.Stop()

	loaded := loadOrder(t, store, order.ID)
	assert.Equal(t, storage.OrderStatusQueued, loaded.Status)
}
