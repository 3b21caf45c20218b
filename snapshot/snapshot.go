// Package snapshot holds the freshest known telemetry per device,
// in memory and separate from the persisted catalog.
package snapshot

import (
	"sort"
	"sync"
	"time"
)

// NoTelemetryAlert marks a device that exists in the catalog but has
// never published on the bus.
const NoTelemetryAlert = "no live telemetry"

// NoAlerts is the alert field value of a healthy device.
const NoAlerts = "none"

// Snapshot is the last-known telemetry of one device. Status values
// follow the wire encoding: 0 offline, 1 online, 2 maintenance.
type Snapshot struct {
	MachineID     int
	Temperature   float64
	Status        int
	LastHeartbeat time.Time
	LastState     time.Time
	Alerts        string
}

// CatalogEntry is a machine's last-persisted telemetry from the
// authoritative catalog, used to synthesize snapshots for devices that
// have never published.
type CatalogEntry struct {
	MachineID   int
	Temperature float64
	Status      int
}

type entry struct {
	mu   sync.Mutex
	snap Snapshot
}

// Store is a concurrent per-device snapshot store. The map is guarded
// by a read-write lock for lookups and inserts; each device entry has
// its own mutex, so updates for different devices do not contend.
type Store struct {
	mu      sync.RWMutex
	devices map[int]*entry
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{devices: make(map[int]*entry)}
}

// entryFor returns the entry for a device, creating it with defaulted
// fields on the first message from that device.
func (s *Store) entryFor(machineID int) *entry {
	s.mu.RLock()
	e, ok := s.devices[machineID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.devices[machineID]; ok {
		return e
	}
	e = &entry{snap: Snapshot{MachineID: machineID, Alerts: NoAlerts}}
	s.devices[machineID] = e
	return e
}

// RecordHeartbeat updates the last-heartbeat timestamp, creating the
// snapshot if this is the first message from the device.
func (s *Store) RecordHeartbeat(machineID int, at time.Time) {
	e := s.entryFor(machineID)
	e.mu.Lock()
	e.snap.LastHeartbeat = at
	e.mu.Unlock()
}

// RecordState updates all telemetry fields from a state message. Status
// transitions happen only here; missing heartbeats never change status.
func (s *Store) RecordState(machineID int, temperature float64, status int, alerts string, at time.Time) {
	e := s.entryFor(machineID)
	e.mu.Lock()
	e.snap.Temperature = temperature
	e.snap.Status = status
	e.snap.Alerts = alerts
	e.snap.LastState = at
	e.mu.Unlock()
}

// Get returns the live snapshot for a device, if it has one.
func (s *Store) Get(machineID int) (Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.devices[machineID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	snap := e.snap
	e.mu.Unlock()
	return snap, true
}

// All merges the live snapshots with the authoritative catalog. Every
// catalog device is represented: devices without a live snapshot are
// synthesized from the catalog's last-persisted temperature and status,
// with zero timestamps and the no-telemetry sentinel alert. The result
// is ordered by machine id.
func (s *Store) All(catalog []CatalogEntry) []Snapshot {
	merged := make(map[int]Snapshot)

	s.mu.RLock()
	for id, e := range s.devices {
		e.mu.Lock()
		merged[id] = e.snap
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, c := range catalog {
		if _, ok := merged[c.MachineID]; ok {
			continue
		}
		merged[c.MachineID] = Snapshot{
			MachineID:   c.MachineID,
			Temperature: c.Temperature,
			Status:      c.Status,
			Alerts:      NoTelemetryAlert,
		}
	}

	out := make([]Snapshot, 0, len(merged))
	for _, snap := range merged {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out
}
