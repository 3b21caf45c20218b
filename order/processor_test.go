package order

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remvend/vendhub/storage"
)

// fakeStore is an in-memory Store with the same guarded-commit
// semantics as the SQL backends: CommitOrder is atomic, re-checks stock
// and balance, and leaves no partial state behind on failure.
type fakeStore struct {
	mu       sync.Mutex
	slots    map[[2]int]storage.Slot // key: {machineID, productID}
	balances map[int]int64
	refs     map[string]bool
	orders   []storage.Order
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slots:    make(map[[2]int]storage.Slot),
		balances: make(map[int]int64),
		refs:     make(map[string]bool),
		nextID:   1,
	}
}

func (f *fakeStore) addSlot(machineID, productID int, name string, priceCents int64, stock int) {
	f.slots[[2]int{machineID, productID}] = storage.Slot{
		MachineID:   machineID,
		ProductID:   productID,
		ProductName: name,
		PriceCents:  priceCents,
		Stock:       stock,
	}
}

func (f *fakeStore) Slot(_ context.Context, machineID, productID int) (storage.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.slots[[2]int{machineID, productID}]
	if !ok {
		return storage.Slot{}, fmt.Errorf("machine %d product %d: %w", machineID, productID, storage.ErrSlotNotFound)
	}
	return slot, nil
}

func (f *fakeStore) Balance(_ context.Context, userID int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[userID]
	if !ok {
		return 0, fmt.Errorf("user %d: %w", userID, storage.ErrUserNotFound)
	}
	return balance, nil
}

func (f *fakeStore) CommitOrder(_ context.Context, o storage.Order, machineID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refs[o.DeviceOrderRef] {
		return 0, fmt.Errorf("order ref %q: %w", o.DeviceOrderRef, storage.ErrDuplicateOrder)
	}
	for _, item := range o.Items {
		key := [2]int{machineID, item.ProductID}
		if f.slots[key].Stock < item.Quantity {
			return 0, fmt.Errorf("machine %d product %d: %w", machineID, item.ProductID, storage.ErrInsufficientStock)
		}
	}
	if f.balances[o.UserID] < o.TotalCents {
		return 0, fmt.Errorf("user %d: %w", o.UserID, storage.ErrInsufficientBalance)
	}

	for _, item := range o.Items {
		key := [2]int{machineID, item.ProductID}
		slot := f.slots[key]
		slot.Stock -= item.Quantity
		f.slots[key] = slot
	}
	f.balances[o.UserID] -= o.TotalCents
	f.refs[o.DeviceOrderRef] = true

	o.ID = f.nextID
	f.nextID++
	f.orders = append(f.orders, o)
	return o.ID, nil
}

func (f *fakeStore) stock(machineID, productID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[[2]int{machineID, productID}].Stock
}

func (f *fakeStore) balance(userID int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

func TestProcessCommitsValidOrder(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 3)
	store.balances[7] = 1000

	p := New(store)
	orderID, total, err := p.Process(context.Background(), "ref-1", 7, 1, []Item{{ProductID: 5, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, orderID)
	assert.Equal(t, int64(500), total)

	assert.Equal(t, 1, store.stock(1, 5))
	assert.Equal(t, int64(500), store.balance(7))

	require.Len(t, store.orders, 1)
	committed := store.orders[0]
	assert.Equal(t, int64(500), committed.TotalCents)
	require.Len(t, committed.Items, 1)
	assert.Equal(t, int64(250), committed.Items[0].PriceCents)
	assert.Equal(t, int64(500), committed.Items[0].SubtotalCents)
	assert.Equal(t, "Soda", committed.Items[0].ProductName)
}

func TestProcessTotalEqualsSumOfSubtotals(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 10)
	store.addSlot(1, 6, "Chips", 175, 10)
	store.balances[7] = 10000

	p := New(store)
	_, total, err := p.Process(context.Background(), "ref-multi", 7, 1, []Item{
		{ProductID: 5, Quantity: 3},
		{ProductID: 6, Quantity: 2},
	})
	require.NoError(t, err)

	committed := store.orders[0]
	var sum int64
	for _, item := range committed.Items {
		assert.Equal(t, item.PriceCents*int64(item.Quantity), item.SubtotalCents)
		sum += item.SubtotalCents
	}
	assert.Equal(t, committed.TotalCents, sum)
	assert.Equal(t, int64(250*3+175*2), committed.TotalCents)
	assert.Equal(t, committed.TotalCents, total, "returned total matches the committed one")
}

func TestProcessRejectsInsufficientStock(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 3)
	store.balances[7] = 1000

	p := New(store)
	_, _, err := p.Process(context.Background(), "ref-2", 7, 1, []Item{{ProductID: 5, Quantity: 4}})
	require.ErrorIs(t, err, storage.ErrInsufficientStock)

	// No mutation on reject.
	assert.Equal(t, 3, store.stock(1, 5))
	assert.Equal(t, int64(1000), store.balance(7))
	assert.Empty(t, store.orders)
}

func TestProcessRejectsInsufficientBalance(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Caviar", 10000, 5)
	store.balances[7] = 5000

	p := New(store)
	_, _, err := p.Process(context.Background(), "ref-3", 7, 1, []Item{{ProductID: 5, Quantity: 1}})
	require.ErrorIs(t, err, storage.ErrInsufficientBalance)

	assert.Equal(t, 5, store.stock(1, 5))
	assert.Equal(t, int64(5000), store.balance(7))
}

func TestProcessRejectsUnknownUser(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 3)

	p := New(store)
	_, _, err := p.Process(context.Background(), "ref-4", 99, 1, []Item{{ProductID: 5, Quantity: 1}})
	require.ErrorIs(t, err, storage.ErrUserNotFound)
	assert.Equal(t, 3, store.stock(1, 5))
}

func TestProcessRejectsUnknownSlot(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 3)
	store.balances[7] = 1000

	p := New(store)
	// Product 5 exists on machine 1, not machine 2: no cross-machine
	// substitution.
	_, _, err := p.Process(context.Background(), "ref-5", 7, 2, []Item{{ProductID: 5, Quantity: 1}})
	require.ErrorIs(t, err, storage.ErrSlotNotFound)
	assert.Equal(t, int64(1000), store.balance(7))
}

func TestProcessRejectsWholeOrderOnOneBadItem(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 3)
	store.addSlot(1, 6, "Chips", 175, 0)
	store.balances[7] = 1000

	p := New(store)
	_, _, err := p.Process(context.Background(), "ref-6", 7, 1, []Item{
		{ProductID: 5, Quantity: 1},
		{ProductID: 6, Quantity: 1},
	})
	require.ErrorIs(t, err, storage.ErrInsufficientStock)

	// No partial commit: the valid first line must not have deducted.
	assert.Equal(t, 3, store.stock(1, 5))
	assert.Equal(t, int64(1000), store.balance(7))
	assert.Empty(t, store.orders)
}

func TestProcessRejectsEmptyAndInvalidItems(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 3)
	store.balances[7] = 1000
	p := New(store)

	_, _, err := p.Process(context.Background(), "ref-7", 7, 1, nil)
	require.ErrorIs(t, err, ErrEmptyOrder)

	_, _, err = p.Process(context.Background(), "ref-8", 7, 1, []Item{{ProductID: 5, Quantity: 0}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = p.Process(context.Background(), "ref-9", 7, 1, []Item{{ProductID: 5, Quantity: -2}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	assert.Equal(t, 3, store.stock(1, 5))
}

func TestProcessValidationIsRepeatable(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 3)
	store.balances[7] = 100

	p := New(store)
	// Same rejected payload twice with no intervening change: same
	// decision both times.
	_, _, err1 := p.Process(context.Background(), "ref-a", 7, 1, []Item{{ProductID: 5, Quantity: 1}})
	_, _, err2 := p.Process(context.Background(), "ref-a", 7, 1, []Item{{ProductID: 5, Quantity: 1}})
	require.ErrorIs(t, err1, storage.ErrInsufficientBalance)
	require.ErrorIs(t, err2, storage.ErrInsufficientBalance)
}

func TestProcessRejectsReplayedOrderRef(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 10)
	store.balances[7] = 10000

	p := New(store)
	items := []Item{{ProductID: 5, Quantity: 1}}

	_, _, err := p.Process(context.Background(), "ref-dup", 7, 1, items)
	require.NoError(t, err)

	// At-least-once delivery can replay the same message. The device
	// order reference is unique at commit time, so the replay fails
	// instead of double-charging.
	_, _, err = p.Process(context.Background(), "ref-dup", 7, 1, items)
	require.ErrorIs(t, err, storage.ErrDuplicateOrder)

	assert.Equal(t, 9, store.stock(1, 5))
	assert.Equal(t, int64(10000-250), store.balance(7))
	assert.Len(t, store.orders, 1)
}

func TestProcessConcurrentOrdersForLastUnit(t *testing.T) {
	store := newFakeStore()
	store.addSlot(1, 5, "Soda", 250, 1)
	store.balances[7] = 10000
	store.balances[8] = 10000

	p := New(store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, userID := range []int{7, 8} {
		wg.Add(1)
		go func(i, userID int) {
			defer wg.Done()
			_, _, errs[i] = p.Process(context.Background(),
				fmt.Sprintf("ref-race-%d", userID), userID, 1,
				[]Item{{ProductID: 5, Quantity: 1}})
		}(i, userID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, storage.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of two racing orders may win the last unit")
	assert.Equal(t, 0, store.stock(1, 5))
}
