package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/remvend/vendhub/logger"
	"github.com/remvend/vendhub/msglog"
	"github.com/remvend/vendhub/order"
	"github.com/remvend/vendhub/rules"
	"github.com/remvend/vendhub/snapshot"
	"github.com/remvend/vendhub/storage"
)

// handlerTimeout bounds the database work done for one message.
const handlerTimeout = 10 * time.Second

// Publisher sends a payload to a topic. *Client satisfies it; tests
// substitute a fake.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Router classifies inbound messages and dispatches each to its
// handler. It owns no business logic: validation and commits live in
// the order processor and the storage layer. Handlers are safe for
// concurrent invocation; the router does not serialize them.
type Router struct {
	pub       Publisher
	store     storage.Store
	snapshots *snapshot.Store
	logs      *msglog.Store
	orders    *order.Processor

	// rules is swapped by the config watcher while message callbacks
	// read it, so access goes through an atomic pointer. Nil when no
	// rules script is configured.
	rules atomic.Pointer[rules.Engine]
}

// NewRouter wires a router. ruleEngine may be nil.
func NewRouter(pub Publisher, store storage.Store, snapshots *snapshot.Store, logs *msglog.Store, orders *order.Processor, ruleEngine *rules.Engine) *Router {
	r := &Router{
		pub:       pub,
		store:     store,
		snapshots: snapshots,
		logs:      logs,
		orders:    orders,
	}
	r.rules.Store(ruleEngine)
	return r
}

// ReloadRules swaps the rule engine used for state messages. Safe to
// call while messages are in flight; nil disables rule evaluation.
func (r *Router) ReloadRules(engine *rules.Engine) {
	r.rules.Store(engine)
}

var logCategories = map[Category]msglog.Category{
	CategoryHeartbeat:        msglog.Heartbeat,
	CategoryState:            msglog.State,
	CategoryOrder:            msglog.Order,
	CategoryOrderProcessed:   msglog.ProcessedOrder,
	CategoryInventoryRequest: msglog.InventoryRequest,
}

// Handle is the message callback for every server subscription. Each
// dispatched message is appended to the message log under its category
// before its handler runs, so the audit trail is independent of handler
// success or failure. Unmatched topics are logged and dropped, never
// fatal.
func (r *Router) Handle(topic string, payload []byte) {
	cls := Classify(topic)

	switch cls.Category {
	case CategoryInventoryResponse, CategoryCommand:
		// Server-to-device traffic; the wildcard subscription echoes our
		// own publishes back.
		logger.Debug("server-to-device message ignored: %s", topic)
		return
	case CategoryUnknown:
		logger.Warn("unknown topic, message dropped: %s", topic)
		return
	}
	r.logs.Append(logCategories[cls.Category], topic, string(payload), time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch cls.Category {
	case CategoryHeartbeat:
		r.handleHeartbeat(ctx, cls)
	case CategoryState:
		r.handleState(ctx, cls, payload)
	case CategoryOrder:
		r.handleOrder(ctx, cls, payload)
	case CategoryOrderProcessed:
		// Audit-only; the append above is the whole job.
		logger.Debug("processed order message logged: %s", topic)
	case CategoryInventoryRequest:
		r.handleInventoryRequest(ctx, cls, payload)
	}
}

func (r *Router) handleHeartbeat(ctx context.Context, cls Classification) {
	machineID, err := strconv.Atoi(cls.MachineID)
	if err != nil {
		logger.Error("heartbeat with unparseable machine id %q: %v", cls.MachineID, err)
		return
	}

	now := time.Now()
	r.snapshots.RecordHeartbeat(machineID, now)

	if err := r.store.TouchMachine(ctx, machineID, now); err != nil {
		logger.Error("update heartbeat time for machine %d: %v", machineID, err)
	}
	logger.Debug("heartbeat recorded for machine %d", machineID)
}

func (r *Router) handleState(ctx context.Context, cls Classification, payload []byte) {
	// The machine id comes from the payload, not the topic: the payload
	// is what the device signed off on.
	p, err := ParseStatePayload(payload)
	if err != nil {
		logger.Error("state message dropped: %v (topic %s)", err, cls.Topic)
		return
	}
	machineID, err := strconv.Atoi(p.MachineID)
	if err != nil {
		logger.Error("state with unparseable machine id %q: %v", p.MachineID, err)
		return
	}

	alerts := p.Alerts
	if engine := r.rules.Load(); engine != nil {
		ruleAlerts, err := engine.Evaluate(rules.State{
			MachineID:   p.MachineID,
			Temperature: p.Temperature,
			Status:      p.Status,
			Alerts:      p.Alerts,
		})
		if err != nil {
			logger.Error("rules evaluation for machine %d: %v", machineID, err)
		} else if ruleAlerts != "" {
			if alerts == snapshot.NoAlerts {
				alerts = ruleAlerts
			} else {
				alerts = alerts + "; " + ruleAlerts
			}
		}
	}

	if alerts != snapshot.NoAlerts {
		logger.Warn("machine %d reports alerts: %s", machineID, alerts)
	}

	r.snapshots.RecordState(machineID, p.Temperature, p.Status, alerts, time.Now())

	if err := r.store.UpdateMachineState(ctx, machineID, p.Temperature, p.Status); err != nil {
		logger.Error("persist state for machine %d: %v", machineID, err)
	}
	logger.Debug("state recorded for machine %d: temp=%.1f status=%d", machineID, p.Temperature, p.Status)
}

func (r *Router) handleOrder(ctx context.Context, cls Classification, payload []byte) {
	p, err := ParseOrderPayload(payload)
	if err != nil {
		logger.Error("order message dropped: %v (topic %s)", err, cls.Topic)
		return
	}
	machineID, err := strconv.Atoi(p.MachineID)
	if err != nil {
		logger.Error("order %s with unparseable machine id %q: %v", p.OrderID, p.MachineID, err)
		return
	}

	items := make([]order.Item, len(p.Items))
	for i, line := range p.Items {
		items[i] = order.Item{ProductID: line.ProductID, Quantity: line.Quantity}
	}

	realID, total, err := r.orders.Process(ctx, p.OrderID, p.UserID, machineID, items)
	if err != nil {
		logger.Error("order %s rejected: user=%d machine=%d items=%v: %v",
			p.OrderID, p.UserID, machineID, p.Items, err)
		return
	}

	r.publishProcessedOrder(realID, total, p)
}

// publishProcessedOrder notifies the bus that a device order has been
// committed, linking the device-assigned id to the database id. The
// total is the one the commit charged, not a recomputation.
func (r *Router) publishProcessedOrder(realID int, total int64, p OrderPayload) {
	notice := ProcessedOrderPayload{
		RealOrderID:     realID,
		OriginalOrderID: p.OrderID,
		UserID:          p.UserID,
		MachineID:       p.MachineID,
		TotalCents:      total,
	}
	data, err := json.Marshal(notice)
	if err != nil {
		logger.Error("marshal processed order notice: %v", err)
		return
	}
	topic := OrderProcessedTopic(strconv.Itoa(realID))
	if err := r.pub.Publish(topic, data); err != nil {
		logger.Error("publish processed order notice to %s: %v", topic, err)
	}
}

func (r *Router) handleInventoryRequest(ctx context.Context, cls Classification, payload []byte) {
	p, err := ParseInventoryRequestPayload(payload)
	if err != nil {
		logger.Error("inventory request dropped: %v (topic %s)", err, cls.Topic)
		return
	}
	machineID, err := strconv.Atoi(p.MachineID)
	if err != nil {
		logger.Error("inventory request with unparseable machine id %q: %v", p.MachineID, err)
		return
	}

	slots, err := r.store.SlotsByMachine(ctx, machineID)
	if err != nil {
		logger.Error("inventory lookup for machine %d: %v", machineID, err)
		return
	}

	resp := InventoryResponsePayload{
		MachineID: p.MachineID,
		Products:  make([]InventoryProduct, len(slots)),
	}
	for i, slot := range slots {
		resp.Products[i] = InventoryProduct{
			ProductID:   slot.ProductID,
			ProductName: slot.ProductName,
			Stock:       slot.Stock,
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("marshal inventory response for machine %d: %v", machineID, err)
		return
	}

	topic := InventoryResponseTopic(p.MachineID)
	if err := r.pub.Publish(topic, data); err != nil {
		// Fire-and-forget: the device re-requests on its next cycle.
		logger.Error("publish inventory response to %s: %v", topic, err)
		return
	}
	logger.Info("inventory response sent to machine %d (%d products)", machineID, len(resp.Products))
}

// DeviceSnapshots returns the merged snapshot view: every machine in
// the catalog is represented, with live telemetry where any exists.
func (r *Router) DeviceSnapshots(ctx context.Context) ([]snapshot.Snapshot, error) {
	machines, err := r.store.Machines(ctx)
	if err != nil {
		return nil, err
	}
	catalog := make([]snapshot.CatalogEntry, len(machines))
	for i, m := range machines {
		catalog[i] = snapshot.CatalogEntry{
			MachineID:   m.ID,
			Temperature: m.Temperature,
			Status:      m.Status,
		}
	}
	return r.snapshots.All(catalog), nil
}
