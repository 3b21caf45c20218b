package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = $1"},
		{
			"UPDATE t SET a = ?, b = ? WHERE c = ? AND d + ? >= 0",
			"UPDATE t SET a = $1, b = $2 WHERE c = $3 AND d + $4 >= 0",
		},
		{"INSERT INTO t VALUES (?, ?, ?)", "INSERT INTO t VALUES ($1, $2, $3)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rebindDollar(tt.in))
	}
}

func TestMySQLDialectDuplicateDetection(t *testing.T) {
	d := mysqlDialect{}

	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'ORD-1' for key 'uq_device_order_ref'"}
	assert.True(t, d.isDuplicate(dup))
	assert.True(t, d.isDuplicate(fmt.Errorf("insert order: %w", dup)))

	assert.False(t, d.isDuplicate(&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}))
	assert.False(t, d.isDuplicate(errors.New("connection refused")))
	assert.False(t, d.isDuplicate(nil))
}

func TestPostgresDialectDuplicateDetection(t *testing.T) {
	d := postgresDialect{}

	dup := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	assert.True(t, d.isDuplicate(dup))
	assert.True(t, d.isDuplicate(fmt.Errorf("insert order: %w", dup)))

	assert.False(t, d.isDuplicate(&pq.Error{Code: "42P01"}))
	assert.False(t, d.isDuplicate(errors.New("connection refused")))
	assert.False(t, d.isDuplicate(nil))
}

func TestDialectRebind(t *testing.T) {
	query := "SELECT balance_cents FROM app_user WHERE id = ?"
	assert.Equal(t, query, mysqlDialect{}.rebind(query))
	assert.Equal(t, "SELECT balance_cents FROM app_user WHERE id = $1", postgresDialect{}.rebind(query))
}

func TestNewRejectsUnsupportedType(t *testing.T) {
	_, err := New("sqlite", "file.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}
