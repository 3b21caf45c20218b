// Package msglog is an append-only, categorized in-memory log of every
// inbound bus message, kept for observability and replay debugging.
package msglog

import (
	"sort"
	"sync"
	"time"
)

// Category classifies a logged message.
type Category string

const (
	Heartbeat        Category = "heartbeat"
	State            Category = "state"
	Order            Category = "order"
	ProcessedOrder   Category = "processed_order"
	InventoryRequest Category = "inventory_request"
)

// Categories lists every known category.
var Categories = []Category{Heartbeat, State, Order, ProcessedOrder, InventoryRequest}

// Entry is one logged message.
type Entry struct {
	Topic     string
	Payload   string
	Timestamp time.Time
}

type categoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// Store holds one append-only log per category. Each category has its
// own mutex, so writers for different message classes do not contend.
type Store struct {
	logs map[Category]*categoryLog
}

// NewStore creates a store with all known categories initialized.
func NewStore() *Store {
	logs := make(map[Category]*categoryLog, len(Categories))
	for _, c := range Categories {
		logs[c] = &categoryLog{}
	}
	return &Store{logs: logs}
}

// Append records a message under its category. Unknown categories are
// ignored; the router only dispatches known ones.
func (s *Store) Append(c Category, topic, payload string, at time.Time) {
	cl, ok := s.logs[c]
	if !ok {
		return
	}
	cl.mu.Lock()
	cl.entries = append(cl.entries, Entry{Topic: topic, Payload: payload, Timestamp: at})
	cl.mu.Unlock()
}

// Logs returns a copy of the entries for one category.
func (s *Store) Logs(c Category) []Entry {
	cl, ok := s.logs[c]
	if !ok {
		return nil
	}
	cl.mu.Lock()
	out := make([]Entry, len(cl.entries))
	copy(out, cl.entries)
	cl.mu.Unlock()
	return out
}

// Len returns the number of entries in a category.
func (s *Store) Len(c Category) int {
	cl, ok := s.logs[c]
	if !ok {
		return 0
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.entries)
}

// AllOrderLogs returns raw and processed order entries together, newest
// first.
func (s *Store) AllOrderLogs() []Entry {
	out := append(s.Logs(Order), s.Logs(ProcessedOrder)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}
