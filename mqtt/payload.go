package mqtt

import (
	"encoding/json"
	"fmt"
)

// FieldError reports a missing or invalid field in a message payload.
// Handlers log it and drop the message; it is never fatal.
type FieldError struct {
	Payload string
	Field   string
	Reason  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s payload: field %q %s", e.Payload, e.Field, e.Reason)
}

// StatePayload is a device state report.
type StatePayload struct {
	MachineID   string  `json:"machineId"`
	Temperature float64 `json:"temperature"`
	Status      int     `json:"status"`
	Alerts      string  `json:"alerts,omitempty"`
}

// ParseStatePayload decodes and validates a state payload. machineId,
// temperature and status are required; alerts defaults to "none".
func ParseStatePayload(data []byte) (StatePayload, error) {
	var raw struct {
		MachineID   *string  `json:"machineId"`
		Temperature *float64 `json:"temperature"`
		Status      *int     `json:"status"`
		Alerts      *string  `json:"alerts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StatePayload{}, fmt.Errorf("decode state payload: %w", err)
	}
	if raw.MachineID == nil || *raw.MachineID == "" {
		return StatePayload{}, &FieldError{"state", "machineId", "is required"}
	}
	if raw.Temperature == nil {
		return StatePayload{}, &FieldError{"state", "temperature", "is required"}
	}
	if raw.Status == nil {
		return StatePayload{}, &FieldError{"state", "status", "is required"}
	}

	p := StatePayload{
		MachineID:   *raw.MachineID,
		Temperature: *raw.Temperature,
		Status:      *raw.Status,
		Alerts:      "none",
	}
	if raw.Alerts != nil && *raw.Alerts != "" {
		p.Alerts = *raw.Alerts
	}
	return p, nil
}

// OrderLine is one requested item of an order payload.
type OrderLine struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

// OrderPayload is a device-reported completed order. The server is the
// sole arbiter of whether it is honored.
type OrderPayload struct {
	OrderID   string      `json:"orderId"`
	UserID    int         `json:"userId"`
	MachineID string      `json:"machineId"`
	Items     []OrderLine `json:"items"`
}

// ParseOrderPayload decodes and validates an order payload. All fields
// are required and items must be a non-empty array.
func ParseOrderPayload(data []byte) (OrderPayload, error) {
	var raw struct {
		OrderID   *string      `json:"orderId"`
		UserID    *int         `json:"userId"`
		MachineID *string      `json:"machineId"`
		Items     *[]OrderLine `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return OrderPayload{}, fmt.Errorf("decode order payload: %w", err)
	}
	if raw.OrderID == nil || *raw.OrderID == "" {
		return OrderPayload{}, &FieldError{"order", "orderId", "is required"}
	}
	if raw.UserID == nil {
		return OrderPayload{}, &FieldError{"order", "userId", "is required"}
	}
	if raw.MachineID == nil || *raw.MachineID == "" {
		return OrderPayload{}, &FieldError{"order", "machineId", "is required"}
	}
	if raw.Items == nil {
		return OrderPayload{}, &FieldError{"order", "items", "is required"}
	}
	if len(*raw.Items) == 0 {
		return OrderPayload{}, &FieldError{"order", "items", "must not be empty"}
	}

	return OrderPayload{
		OrderID:   *raw.OrderID,
		UserID:    *raw.UserID,
		MachineID: *raw.MachineID,
		Items:     *raw.Items,
	}, nil
}

// InventoryRequestPayload asks the server for a machine's slot levels.
type InventoryRequestPayload struct {
	MachineID string `json:"machineId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ParseInventoryRequestPayload decodes and validates an inventory
// request. machineId is required, timestamp is informational.
func ParseInventoryRequestPayload(data []byte) (InventoryRequestPayload, error) {
	var raw struct {
		MachineID *string `json:"machineId"`
		Timestamp *int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return InventoryRequestPayload{}, fmt.Errorf("decode inventory request: %w", err)
	}
	if raw.MachineID == nil || *raw.MachineID == "" {
		return InventoryRequestPayload{}, &FieldError{"inventory request", "machineId", "is required"}
	}

	p := InventoryRequestPayload{MachineID: *raw.MachineID}
	if raw.Timestamp != nil {
		p.Timestamp = *raw.Timestamp
	}
	return p, nil
}

// InventoryProduct is one slot in an inventory response. Zero-stock
// slots are included.
type InventoryProduct struct {
	ProductID   int    `json:"productId"`
	ProductName string `json:"productName"`
	Stock       int    `json:"stock"`
}

// InventoryResponsePayload carries authoritative stock levels back to
// a device.
type InventoryResponsePayload struct {
	MachineID string             `json:"machineId"`
	Products  []InventoryProduct `json:"products"`
}

// ParseInventoryResponsePayload decodes and validates an inventory
// response on the device side.
func ParseInventoryResponsePayload(data []byte) (InventoryResponsePayload, error) {
	var raw struct {
		MachineID *string             `json:"machineId"`
		Products  *[]InventoryProduct `json:"products"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return InventoryResponsePayload{}, fmt.Errorf("decode inventory response: %w", err)
	}
	if raw.MachineID == nil || *raw.MachineID == "" {
		return InventoryResponsePayload{}, &FieldError{"inventory response", "machineId", "is required"}
	}
	if raw.Products == nil {
		return InventoryResponsePayload{}, &FieldError{"inventory response", "products", "is required"}
	}
	return InventoryResponsePayload{MachineID: *raw.MachineID, Products: *raw.Products}, nil
}

// ProcessedOrderPayload is the server's self-notification after a
// commit, linking the device-assigned order id to the database id.
// Audit-only.
type ProcessedOrderPayload struct {
	RealOrderID     int    `json:"realOrderId"`
	OriginalOrderID string `json:"originalOrderId"`
	UserID          int    `json:"userId"`
	MachineID       string `json:"machineId"`
	TotalCents      int64  `json:"totalCents"`
}

// CommandPayload is a server-to-device command. Value is left raw; its
// shape depends on the command.
type CommandPayload struct {
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// ParseCommandPayload decodes and validates a command payload.
func ParseCommandPayload(data []byte) (CommandPayload, error) {
	var raw struct {
		Command *string         `json:"command"`
		Value   json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return CommandPayload{}, fmt.Errorf("decode command payload: %w", err)
	}
	if raw.Command == nil || *raw.Command == "" {
		return CommandPayload{}, &FieldError{"command", "command", "is required"}
	}
	return CommandPayload{Command: *raw.Command, Value: raw.Value}, nil
}
