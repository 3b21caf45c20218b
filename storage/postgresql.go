package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/remvend/vendhub/logger"
)

// PostgreSQLStore is the PostgreSQL storage backend.
type PostgreSQLStore struct {
	sqlStore
	dsn string
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgresql" }

func (postgresDialect) rebind(query string) string { return rebindDollar(query) }

func (postgresDialect) insertOrder(ctx context.Context, tx *sql.Tx, o Order) (int, error) {
	var id int
	err := tx.QueryRowContext(ctx,
		`INSERT INTO vend_order (user_id, device_order_ref, total_cents, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		o.UserID, o.DeviceOrderRef, o.TotalCents, o.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (postgresDialect) isDuplicate(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == "23505"
}

// NewPostgreSQLStore connects to PostgreSQL and creates the tables if
// they do not exist yet. The database itself must already exist.
func NewPostgreSQLStore(dsn string) (*PostgreSQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	store := &PostgreSQLStore{
		sqlStore: sqlStore{db: db, d: postgresDialect{}},
		dsn:      dsn,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init PostgreSQL schema: %w", err)
	}

	logger.Info("PostgreSQL storage initialized")
	return store, nil
}

func (ps *PostgreSQLStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vending_machine (
			id SERIAL PRIMARY KEY,
			machine_code VARCHAR(64) NOT NULL,
			status INT NOT NULL DEFAULT 0,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
			location_desc VARCHAR(255) NOT NULL DEFAULT '',
			last_update TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE TABLE IF NOT EXISTS vending_machine_product (
			machine_id INT NOT NULL,
			product_id INT NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			price_cents BIGINT NOT NULL,
			stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			PRIMARY KEY (machine_id, product_id)
		);`,

		`CREATE TABLE IF NOT EXISTS app_user (
			id SERIAL PRIMARY KEY,
			username VARCHAR(64) NOT NULL,
			balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0)
		);`,

		`CREATE TABLE IF NOT EXISTS vend_order (
			id SERIAL PRIMARY KEY,
			user_id INT NOT NULL,
			device_order_ref VARCHAR(128) NOT NULL UNIQUE,
			total_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS idx_vend_order_user_id ON vend_order (user_id);`,

		`CREATE TABLE IF NOT EXISTS order_item (
			id SERIAL PRIMARY KEY,
			order_id INT NOT NULL REFERENCES vend_order(id) ON DELETE CASCADE,
			product_id INT NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			price_cents BIGINT NOT NULL,
			subtotal_cents BIGINT NOT NULL
		);`,

		`CREATE INDEX IF NOT EXISTS idx_order_item_order_id ON order_item (order_id);`,
	}

	for _, stmt := range stmts {
		if _, err := ps.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
