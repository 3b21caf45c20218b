package msglog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLogs(t *testing.T) {
	s := NewStore()
	at := time.Now()

	s.Append(Heartbeat, "vendingmachine/heartbeat/1", "{}", at)

	entries := s.Logs(Heartbeat)
	require.Len(t, entries, 1)
	assert.Equal(t, "vendingmachine/heartbeat/1", entries[0].Topic)
	assert.Equal(t, "{}", entries[0].Payload)
	assert.Equal(t, at, entries[0].Timestamp)
}

func TestCategoriesAreIsolated(t *testing.T) {
	s := NewStore()
	s.Append(Heartbeat, "vendingmachine/heartbeat/1", "{}", time.Now())
	s.Append(State, "vendingmachine/state/1", `{"machineId":"1"}`, time.Now())
	s.Append(State, "vendingmachine/state/2", `{"machineId":"2"}`, time.Now())

	assert.Equal(t, 1, s.Len(Heartbeat))
	assert.Equal(t, 2, s.Len(State))
	assert.Equal(t, 0, s.Len(Order))
}

func TestAppendUnknownCategoryIgnored(t *testing.T) {
	s := NewStore()
	s.Append(Category("bogus"), "some/topic", "x", time.Now())
	assert.Equal(t, 0, s.Len(Category("bogus")))
	assert.Nil(t, s.Logs(Category("bogus")))
}

func TestLogsReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append(Order, "vendingmachine/order/A", "{}", time.Now())

	entries := s.Logs(Order)
	entries[0].Payload = "mutated"

	fresh := s.Logs(Order)
	assert.Equal(t, "{}", fresh[0].Payload)
}

func TestAllOrderLogsNewestFirst(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Append(Order, "vendingmachine/order/A", "raw-a", base)
	s.Append(ProcessedOrder, "vendingmachine/order/processed", "done-a", base.Add(time.Second))
	s.Append(Order, "vendingmachine/order/B", "raw-b", base.Add(2*time.Second))
	s.Append(Heartbeat, "vendingmachine/heartbeat/1", "{}", base.Add(3*time.Second))

	all := s.AllOrderLogs()
	require.Len(t, all, 3, "heartbeats are not order logs")
	assert.Equal(t, "raw-b", all[0].Payload)
	assert.Equal(t, "done-a", all[1].Payload)
	assert.Equal(t, "raw-a", all[2].Payload)
}

func TestConcurrentAppends(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(State, "vendingmachine/state/1", "{}", time.Now())
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, s.Len(State))
}
