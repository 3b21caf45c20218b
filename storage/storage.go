package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by Store implementations. Callers match them
// with errors.Is to distinguish validation failures from transport or
// database failures.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrSlotNotFound        = errors.New("product not stocked on machine")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateOrder      = errors.New("duplicate order reference")
)

// Machine status values, mirrored on the wire and in device snapshots.
const (
	StatusOffline     = 0
	StatusOnline      = 1
	StatusMaintenance = 2
)

// Machine is a vending machine row from the authoritative catalog.
type Machine struct {
	ID          int
	Code        string
	Status      int
	Temperature float64
	Location    string
	LastUpdate  time.Time
}

// Slot is one (machine, product) pairing with its own price and stock.
// The same product on another machine is an independent slot.
type Slot struct {
	MachineID   int
	ProductID   int
	ProductName string
	PriceCents  int64
	Stock       int
}

// User holds the account fields the order path needs.
type User struct {
	ID           int
	Username     string
	BalanceCents int64
}

// Order is a committed purchase. All money amounts are integer cents;
// TotalCents is always server-computed, never taken from a message payload.
type Order struct {
	ID             int
	UserID         int
	DeviceOrderRef string
	TotalCents     int64
	CreatedAt      time.Time
	Items          []OrderItem
}

// OrderItem is one line of an order. SubtotalCents = PriceCents * Quantity,
// computed from the slot price at commit time.
type OrderItem struct {
	ID            int
	OrderID       int
	ProductID     int
	ProductName   string
	Quantity      int
	PriceCents    int64
	SubtotalCents int64
}

// Store is the persistence surface the message handlers and the order
// processor depend on.
type Store interface {
	// Machines returns all catalog machines.
	Machines(ctx context.Context) ([]Machine, error)

	// TouchMachine updates a machine's last_update timestamp (heartbeat).
	TouchMachine(ctx context.Context, machineID int, at time.Time) error

	// UpdateMachineState writes the authoritative temperature and status
	// reported by a state message.
	UpdateMachineState(ctx context.Context, machineID int, temperature float64, status int) error

	// SlotsByMachine returns every slot stocked on a machine, including
	// zero-stock slots.
	SlotsByMachine(ctx context.Context, machineID int) ([]Slot, error)

	// Slot returns a single slot or ErrSlotNotFound.
	Slot(ctx context.Context, machineID, productID int) (Slot, error)

	// Balance returns a user's balance in cents or ErrUserNotFound.
	Balance(ctx context.Context, userID int) (int64, error)

	// CommitOrder inserts the order, its items, the guarded stock
	// decrements and the guarded balance decrement in one transaction.
	// Any failure rolls back every step. Returns the generated order id.
	CommitOrder(ctx context.Context, o Order, machineID int) (int, error)

	Close() error
}

// New creates a storage backend for the configured database type.
func New(dbType, dsn string) (Store, error) {
	switch dbType {
	case "mysql":
		return NewMySQLStore(dsn)
	case "postgresql", "postgres":
		return NewPostgreSQLStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
