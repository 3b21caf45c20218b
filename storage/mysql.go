package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/remvend/vendhub/logger"
)

// MySQLStore is the MySQL storage backend.
type MySQLStore struct {
	sqlStore
	dsn      string
	database string
}

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) rebind(query string) string { return query }

func (mysqlDialect) insertOrder(ctx context.Context, tx *sql.Tx, o Order) (int, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO vend_order (user_id, device_order_ref, total_cents, created_at) VALUES (?, ?, ?, ?)`,
		o.UserID, o.DeviceOrderRef, o.TotalCents, o.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read generated order id: %w", err)
	}
	return int(id), nil
}

func (mysqlDialect) isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// NewMySQLStore connects to MySQL, creating the database and tables if
// they do not exist yet.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN: %w", err)
	}

	// Connect to the server first, without selecting a database.
	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL server: %w", err)
	}
	defer serverDB.Close()

	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database))
	if err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping MySQL database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	store := &MySQLStore{
		sqlStore: sqlStore{db: db, d: mysqlDialect{}},
		dsn:      dsn,
		database: database,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init MySQL schema: %w", err)
	}

	logger.Info("MySQL storage initialized, database: %s", database)
	return store, nil
}

// parseMySQLDSN extracts the database name and a server-only DSN from a
// driver DSN like user:pass@tcp(host:port)/dbname?params.
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid DSN, no database name")
	}

	dbParts := strings.Split(parts[len(parts)-1], "?")
	database = dbParts[0]
	if database == "" {
		return "", "", fmt.Errorf("invalid DSN, empty database name")
	}

	serverDSN = strings.Join(parts[:len(parts)-1], "/") + "/"
	if len(dbParts) > 1 {
		serverDSN += "?" + dbParts[1]
	}
	return database, serverDSN, nil
}

func (ms *MySQLStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vending_machine (
			id INT AUTO_INCREMENT PRIMARY KEY,
			machine_code VARCHAR(64) NOT NULL,
			status INT NOT NULL DEFAULT 0,
			temperature DOUBLE NOT NULL DEFAULT 0,
			location_desc VARCHAR(255) NOT NULL DEFAULT '',
			last_update TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

		`CREATE TABLE IF NOT EXISTS vending_machine_product (
			machine_id INT NOT NULL,
			product_id INT NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			price_cents BIGINT NOT NULL,
			stock INT NOT NULL DEFAULT 0,
			PRIMARY KEY (machine_id, product_id),
			CONSTRAINT chk_stock_non_negative CHECK (stock >= 0)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

		`CREATE TABLE IF NOT EXISTS app_user (
			id INT AUTO_INCREMENT PRIMARY KEY,
			username VARCHAR(64) NOT NULL,
			balance_cents BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT chk_balance_non_negative CHECK (balance_cents >= 0)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

		`CREATE TABLE IF NOT EXISTS vend_order (
			id INT AUTO_INCREMENT PRIMARY KEY,
			user_id INT NOT NULL,
			device_order_ref VARCHAR(128) NOT NULL,
			total_cents BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uq_device_order_ref (device_order_ref),
			INDEX idx_user_id (user_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,

		`CREATE TABLE IF NOT EXISTS order_item (
			id INT AUTO_INCREMENT PRIMARY KEY,
			order_id INT NOT NULL,
			product_id INT NOT NULL,
			product_name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			price_cents BIGINT NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			FOREIGN KEY (order_id) REFERENCES vend_order(id) ON DELETE CASCADE,
			INDEX idx_order_id (order_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`,
	}

	for _, stmt := range stmts {
		if _, err := ms.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
