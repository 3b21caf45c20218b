// Package device implements the machine-side mirror of the protocol: a
// simulated vending machine that keeps its own local stock view, syncs
// it from the server over the inventory request/response exchange, and
// reports heartbeats, state and completed orders.
//
// The local stock map is optimistic by design: a purchase deducts it
// immediately, and the server remains the sole arbiter of whether the
// reported order is honored. The view converges on the next successful
// inventory sync, not before.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remvend/vendhub/logger"
	"github.com/remvend/vendhub/mqtt"
)

// Publisher sends a payload to a topic. The MQTT client satisfies it;
// tests substitute a fake to run without a broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Machine is one simulated vending machine.
type Machine struct {
	id     string
	userID int
	pub    Publisher

	mu          sync.Mutex
	inventory   map[int]int // productID -> local stock
	temperature float64
	status      int

	rng *rand.Rand
}

// NewMachine creates a machine mirror. userID is the account charged by
// simulated purchases.
func NewMachine(id string, userID int, pub Publisher) *Machine {
	return &Machine{
		id:          id,
		userID:      userID,
		pub:         pub,
		inventory:   make(map[int]int),
		temperature: 25.0,
		status:      1,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ID returns the machine identifier.
func (m *Machine) ID() string { return m.id }

// Inventory returns a copy of the local stock view.
func (m *Machine) Inventory() map[int]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]int, len(m.inventory))
	for id, stock := range m.inventory {
		out[id] = stock
	}
	return out
}

// SubscriptionTopics returns the topics this machine listens on.
func (m *Machine) SubscriptionTopics() []string {
	return []string{
		mqtt.InventoryResponseTopic(m.id),
		mqtt.CommandTopic(m.id),
	}
}

// HandleMessage is the callback for the machine's subscriptions.
func (m *Machine) HandleMessage(topic string, payload []byte) {
	cls := mqtt.Classify(topic)
	switch cls.Category {
	case mqtt.CategoryInventoryResponse:
		m.handleInventoryResponse(payload)
	case mqtt.CategoryCommand:
		m.handleCommand(payload)
	default:
		logger.Warn("machine %s: message on unexpected topic %s", m.id, topic)
	}
}

// RequestInventory asks the server for the authoritative stock levels.
// The answer arrives asynchronously on the response topic; a lost
// response just leaves the mirror stale until the next request.
func (m *Machine) RequestInventory() error {
	payload, err := json.Marshal(mqtt.InventoryRequestPayload{
		MachineID: m.id,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal inventory request: %w", err)
	}
	return m.pub.Publish(mqtt.InventoryRequestTopic(m.id), payload)
}

func (m *Machine) handleInventoryResponse(payload []byte) {
	p, err := mqtt.ParseInventoryResponsePayload(payload)
	if err != nil {
		logger.Error("machine %s: bad inventory response: %v", m.id, err)
		return
	}
	if p.MachineID != m.id {
		logger.Warn("machine %s: inventory response for machine %s ignored", m.id, p.MachineID)
		return
	}

	fresh := make(map[int]int, len(p.Products))
	for _, product := range p.Products {
		fresh[product.ProductID] = product.Stock
	}

	m.mu.Lock()
	m.inventory = fresh
	m.mu.Unlock()
	logger.Info("machine %s: inventory synced, %d products", m.id, len(fresh))
}

func (m *Machine) handleCommand(payload []byte) {
	p, err := mqtt.ParseCommandPayload(payload)
	if err != nil {
		logger.Error("machine %s: bad command: %v", m.id, err)
		return
	}

	switch p.Command {
	case "CHANGE_TEMPERATURE":
		var value float64
		if err := json.Unmarshal(p.Value, &value); err != nil {
			logger.Error("machine %s: CHANGE_TEMPERATURE needs a numeric value: %v", m.id, err)
			return
		}
		m.mu.Lock()
		m.temperature = value
		m.mu.Unlock()
		logger.Info("machine %s: temperature set to %.1f", m.id, value)

	case "SET_STATUS":
		var value int
		if err := json.Unmarshal(p.Value, &value); err != nil {
			logger.Error("machine %s: SET_STATUS needs an integer value: %v", m.id, err)
			return
		}
		m.mu.Lock()
		m.status = value
		m.mu.Unlock()
		logger.Info("machine %s: status set to %d", m.id, value)

	case "DISPENSE_PRODUCT":
		var value struct {
			ProductID int `json:"productId"`
			Quantity  int `json:"quantity"`
		}
		if err := json.Unmarshal(p.Value, &value); err != nil {
			logger.Error("machine %s: DISPENSE_PRODUCT needs productId and quantity: %v", m.id, err)
			return
		}
		m.dispense(value.ProductID, value.Quantity)

	default:
		logger.Warn("machine %s: unknown command %q", m.id, p.Command)
	}
}

func (m *Machine) dispense(productID, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == 0 {
		logger.Warn("machine %s: offline, dispense refused", m.id)
		return
	}
	stock := m.inventory[productID]
	if stock < quantity {
		logger.Warn("machine %s: product %d local stock %d < %d, dispense refused",
			m.id, productID, stock, quantity)
		return
	}
	m.inventory[productID] = stock - quantity
	logger.Info("machine %s: dispensed product %d x%d, local stock now %d",
		m.id, productID, quantity, stock-quantity)
}

// PublishHeartbeat sends an empty heartbeat message.
func (m *Machine) PublishHeartbeat() error {
	return m.pub.Publish(mqtt.HeartbeatTopic(m.id), []byte("{}"))
}

// PublishState reports temperature, status and local-stock alerts.
// Callers should sync inventory first so the zero-stock alerts reflect
// server truth as closely as the protocol allows.
func (m *Machine) PublishState() error {
	m.mu.Lock()
	var zeroStock []int
	for productID, stock := range m.inventory {
		if stock == 0 {
			zeroStock = append(zeroStock, productID)
		}
	}
	state := mqtt.StatePayload{
		MachineID:   m.id,
		Temperature: m.temperature,
		Status:      m.status,
	}
	m.mu.Unlock()

	sort.Ints(zeroStock)
	alerts := "none"
	for i, productID := range zeroStock {
		if i == 0 {
			alerts = ""
		} else {
			alerts += "; "
		}
		alerts += fmt.Sprintf("product %d out of stock (local view)", productID)
	}
	state.Alerts = alerts

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state report: %w", err)
	}
	return m.pub.Publish(mqtt.StateTopic(m.id), payload)
}

// ReportOrder deducts the items from the local mirror and publishes a
// completed-order message. The deduction is optimistic: if the server
// rejects the order, the mirror diverges until the next inventory sync.
// The payload deliberately carries no prices or totals.
func (m *Machine) ReportOrder(orderID string, userID int, items []mqtt.OrderLine) error {
	m.mu.Lock()
	if m.status == 0 {
		m.mu.Unlock()
		return fmt.Errorf("machine %s is offline", m.id)
	}
	for _, line := range items {
		if m.inventory[line.ProductID] < line.Quantity {
			stock := m.inventory[line.ProductID]
			m.mu.Unlock()
			return fmt.Errorf("machine %s: product %d local stock %d < %d",
				m.id, line.ProductID, stock, line.Quantity)
		}
	}
	for _, line := range items {
		m.inventory[line.ProductID] -= line.Quantity
	}
	m.mu.Unlock()

	payload, err := json.Marshal(mqtt.OrderPayload{
		OrderID:   orderID,
		UserID:    userID,
		MachineID: m.id,
		Items:     items,
	})
	if err != nil {
		return fmt.Errorf("marshal order report: %w", err)
	}
	if err := m.pub.Publish(mqtt.OrderTopic(orderID), payload); err != nil {
		return err
	}
	logger.Info("machine %s: order %s reported (%d items)", m.id, orderID, len(items))
	return nil
}

// SimulatePurchase builds a random purchase from products with local
// stock and reports it. Returns the generated order id, or "" when
// nothing is purchasable.
func (m *Machine) SimulatePurchase() (string, error) {
	m.mu.Lock()
	if m.status == 0 {
		m.mu.Unlock()
		return "", nil
	}
	var available []int
	for productID, stock := range m.inventory {
		if stock > 0 {
			available = append(available, productID)
		}
	}
	m.mu.Unlock()

	if len(available) == 0 {
		logger.Debug("machine %s: nothing purchasable", m.id)
		return "", nil
	}
	sort.Ints(available)

	m.mu.Lock()
	m.rng.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})
	count := m.rng.Intn(min(3, len(available))) + 1
	items := make([]mqtt.OrderLine, 0, count)
	for _, productID := range available[:count] {
		quantity := m.rng.Intn(2) + 1
		if stock := m.inventory[productID]; quantity > stock {
			quantity = stock
		}
		if quantity > 0 {
			items = append(items, mqtt.OrderLine{ProductID: productID, Quantity: quantity})
		}
	}
	m.mu.Unlock()

	if len(items) == 0 {
		return "", nil
	}

	orderID := fmt.Sprintf("SIM-%s-%s", m.id, uuid.NewString()[:8])
	if err := m.ReportOrder(orderID, m.userID, items); err != nil {
		return "", err
	}
	return orderID, nil
}

// Run drives the machine on its reporting schedule until the context is
// cancelled. Inventory is requested before every state report to keep
// the mirror's staleness window at one state interval. purchaseEvery of
// zero disables simulated purchases.
func (m *Machine) Run(ctx context.Context, heartbeatEvery, stateEvery, purchaseEvery time.Duration) {
	// Initial sync so the first state report has stock to look at.
	if err := m.RequestInventory(); err != nil {
		logger.Error("machine %s: initial inventory request: %v", m.id, err)
	}

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	state := time.NewTicker(stateEvery)
	defer state.Stop()

	var purchase <-chan time.Time
	if purchaseEvery > 0 {
		t := time.NewTicker(purchaseEvery)
		defer t.Stop()
		purchase = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := m.PublishHeartbeat(); err != nil {
				logger.Error("machine %s: heartbeat publish: %v", m.id, err)
			}
		case <-state.C:
			if err := m.RequestInventory(); err != nil {
				logger.Error("machine %s: inventory request: %v", m.id, err)
			}
			if err := m.PublishState(); err != nil {
				logger.Error("machine %s: state publish: %v", m.id, err)
			}
		case <-purchase:
			if _, err := m.SimulatePurchase(); err != nil {
				logger.Error("machine %s: simulated purchase: %v", m.id, err)
			}
		}
	}
}
