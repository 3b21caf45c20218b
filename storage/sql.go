package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/remvend/vendhub/logger"
)

// dialect covers the differences between the supported databases:
// placeholder style, returning the generated order id, and recognizing a
// unique-constraint violation on the device order reference.
type dialect interface {
	name() string
	rebind(query string) string
	insertOrder(ctx context.Context, tx *sql.Tx, o Order) (int, error)
	isDuplicate(err error) bool
}

// sqlStore is the shared implementation behind both backends. Queries are
// written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlStore) Machines(ctx context.Context) ([]Machine, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, machine_code, status, temperature, location_desc, last_update
		 FROM vending_machine ORDER BY id`))
	if err != nil {
		return nil, fmt.Errorf("query machines: %w", err)
	}
	defer rows.Close()

	var machines []Machine
	for rows.Next() {
		var m Machine
		if err := rows.Scan(&m.ID, &m.Code, &m.Status, &m.Temperature, &m.Location, &m.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (s *sqlStore) TouchMachine(ctx context.Context, machineID int, at time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE vending_machine SET last_update = ? WHERE id = ?`, at, machineID)
	if err != nil {
		return fmt.Errorf("touch machine %d: %w", machineID, err)
	}
	return nil
}

func (s *sqlStore) UpdateMachineState(ctx context.Context, machineID int, temperature float64, status int) error {
	_, err := s.exec(ctx,
		`UPDATE vending_machine SET temperature = ?, status = ?, last_update = ? WHERE id = ?`,
		temperature, status, time.Now(), machineID)
	if err != nil {
		return fmt.Errorf("update machine %d state: %w", machineID, err)
	}
	return nil
}

func (s *sqlStore) SlotsByMachine(ctx context.Context, machineID int) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT machine_id, product_id, product_name, price_cents, stock
		 FROM vending_machine_product WHERE machine_id = ? ORDER BY product_id`), machineID)
	if err != nil {
		return nil, fmt.Errorf("query slots for machine %d: %w", machineID, err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var sl Slot
		if err := rows.Scan(&sl.MachineID, &sl.ProductID, &sl.ProductName, &sl.PriceCents, &sl.Stock); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

func (s *sqlStore) Slot(ctx context.Context, machineID, productID int) (Slot, error) {
	var sl Slot
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT machine_id, product_id, product_name, price_cents, stock
		 FROM vending_machine_product WHERE machine_id = ? AND product_id = ?`),
		machineID, productID).
		Scan(&sl.MachineID, &sl.ProductID, &sl.ProductName, &sl.PriceCents, &sl.Stock)
	if err == sql.ErrNoRows {
		return Slot{}, fmt.Errorf("machine %d product %d: %w", machineID, productID, ErrSlotNotFound)
	}
	if err != nil {
		return Slot{}, fmt.Errorf("query slot: %w", err)
	}
	return sl, nil
}

func (s *sqlStore) Balance(ctx context.Context, userID int) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT balance_cents FROM app_user WHERE id = ?`), userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// CommitOrder runs the whole commit sequence in a single transaction:
// order insert, per-item guarded stock decrement, order item insert,
// guarded balance decrement. The guards are re-checked here by the
// database, so a validation pass that has gone stale under concurrency
// aborts the transaction instead of overselling or overdrawing.
func (s *sqlStore) CommitOrder(ctx context.Context, o Order, machineID int) (orderID int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin order transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logger.Error("order transaction rollback failed: %v", rbErr)
			}
		}
	}()

	orderID, err = s.d.insertOrder(ctx, tx, o)
	if err != nil {
		if s.d.isDuplicate(err) {
			return 0, fmt.Errorf("order ref %q: %w", o.DeviceOrderRef, ErrDuplicateOrder)
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		if err = s.adjustSlotStock(ctx, tx, machineID, item.ProductID, -item.Quantity, item.Quantity); err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, s.d.rebind(
			`INSERT INTO order_item (order_id, product_id, product_name, quantity, price_cents, subtotal_cents)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			orderID, item.ProductID, item.ProductName, item.Quantity, item.PriceCents, item.SubtotalCents)
		if err != nil {
			return 0, fmt.Errorf("insert order item for product %d: %w", item.ProductID, err)
		}
	}

	res, err := tx.ExecContext(ctx, s.d.rebind(
		`UPDATE app_user SET balance_cents = balance_cents - ? WHERE id = ? AND balance_cents >= ?`),
		o.TotalCents, o.UserID, o.TotalCents)
	if err != nil {
		return 0, fmt.Errorf("decrement balance for user %d: %w", o.UserID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("decrement balance for user %d: %w", o.UserID, err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("user %d, total %d cents: %w", o.UserID, o.TotalCents, ErrInsufficientBalance)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit order transaction: %w", err)
	}
	return orderID, nil
}

// adjustSlotStock applies a signed stock delta with its absolute value.
// The WHERE clause rejects any update that would drive stock negative;
// zero rows affected on a decrement means a concurrent order took the
// units between validation and commit.
func (s *sqlStore) adjustSlotStock(ctx context.Context, tx *sql.Tx, machineID, productID, delta, abs int) error {
	res, err := tx.ExecContext(ctx, s.d.rebind(
		`UPDATE vending_machine_product SET stock = stock + ?
		 WHERE machine_id = ? AND product_id = ? AND stock + ? >= 0`),
		delta, machineID, productID, delta)
	if err != nil {
		return fmt.Errorf("adjust stock for machine %d product %d: %w", machineID, productID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust stock for machine %d product %d: %w", machineID, productID, err)
	}
	if affected == 0 {
		return fmt.Errorf("machine %d product %d, need %d: %w", machineID, productID, abs, ErrInsufficientStock)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close %s connection: %w", s.d.name(), err)
		}
		logger.Info("%s connection closed", s.d.name())
	}
	return nil
}

// rebindDollar rewrites ? placeholders as $1..$n for PostgreSQL.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
