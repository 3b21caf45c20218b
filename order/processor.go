// Package order implements the purchase transaction: validate every
// precondition against authoritative data, then commit the order, its
// items, the stock decrements and the balance decrement as one atomic
// unit.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/remvend/vendhub/logger"
	"github.com/remvend/vendhub/storage"
)

var (
	ErrEmptyOrder      = errors.New("order has no items")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Item is one requested line of a purchase. Prices never appear here:
// the client is not trusted with pricing.
type Item struct {
	ProductID int
	Quantity  int
}

// Store is the slice of the persistence layer the processor needs.
// *storage implementations satisfy it; tests substitute an in-memory
// fake.
type Store interface {
	Slot(ctx context.Context, machineID, productID int) (storage.Slot, error)
	Balance(ctx context.Context, userID int) (int64, error)
	CommitOrder(ctx context.Context, o storage.Order, machineID int) (int, error)
}

// Processor validates and commits purchase orders.
type Processor struct {
	store Store
}

// New creates a processor over the given store.
func New(store Store) *Processor {
	return &Processor{store: store}
}

// Process validates a purchase and, if every check passes, commits it
// atomically. Returns the generated order id and the committed total in
// cents.
//
// Validation runs fully before any mutation and short-circuits on the
// first failure: item list shape, user existence, slot existence, stock
// sufficiency, then balance against the server-computed total. The
// commit itself re-checks stock and balance with guarded updates inside
// the storage transaction, so validation going stale under concurrency
// aborts the commit rather than corrupting inventory or money.
func (p *Processor) Process(ctx context.Context, deviceOrderRef string, userID, machineID int, items []Item) (int, int64, error) {
	if len(items) == 0 {
		return 0, 0, ErrEmptyOrder
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return 0, 0, fmt.Errorf("product %d, quantity %d: %w", item.ProductID, item.Quantity, ErrInvalidQuantity)
		}
	}

	balance, err := p.store.Balance(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	// Price every line from the authoritative slot, never from the
	// message payload.
	orderItems := make([]storage.OrderItem, 0, len(items))
	var total int64
	for _, item := range items {
		slot, err := p.store.Slot(ctx, machineID, item.ProductID)
		if err != nil {
			return 0, 0, err
		}
		if slot.Stock < item.Quantity {
			return 0, 0, fmt.Errorf("product %d: need %d, have %d: %w",
				item.ProductID, item.Quantity, slot.Stock, storage.ErrInsufficientStock)
		}

		subtotal := slot.PriceCents * int64(item.Quantity)
		total += subtotal
		orderItems = append(orderItems, storage.OrderItem{
			ProductID:     item.ProductID,
			ProductName:   slot.ProductName,
			Quantity:      item.Quantity,
			PriceCents:    slot.PriceCents,
			SubtotalCents: subtotal,
		})
	}

	if balance < total {
		return 0, 0, fmt.Errorf("user %d: balance %d, total %d: %w",
			userID, balance, total, storage.ErrInsufficientBalance)
	}

	orderID, err := p.store.CommitOrder(ctx, storage.Order{
		UserID:         userID,
		DeviceOrderRef: deviceOrderRef,
		TotalCents:     total,
		CreatedAt:      time.Now(),
		Items:          orderItems,
	}, machineID)
	if err != nil {
		return 0, 0, err
	}

	logger.Info("order committed: id=%d ref=%s user=%d machine=%d total=%d cents",
		orderID, deviceOrderRef, userID, machineID, total)
	return orderID, total, nil
}
