package mqtt

import "strings"

// topicRoot is the first segment of every topic in the system.
const topicRoot = "vendingmachine"

// Category is the closed set of message classes carried on the bus.
// Unknown is a first-class value: an unmatched topic classifies to it
// instead of falling through string-prefix checks.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryHeartbeat
	CategoryState
	CategoryOrder
	CategoryOrderProcessed
	CategoryInventoryRequest
	CategoryInventoryResponse
	CategoryCommand
)

var categoryNames = map[Category]string{
	CategoryUnknown:           "unknown",
	CategoryHeartbeat:         "heartbeat",
	CategoryState:             "state",
	CategoryOrder:             "order",
	CategoryOrderProcessed:    "order_processed",
	CategoryInventoryRequest:  "inventory_request",
	CategoryInventoryResponse: "inventory_response",
	CategoryCommand:           "command",
}

func (c Category) String() string { return categoryNames[c] }

// Classification is the structured form of a topic, parsed once and
// dispatched on. MachineID holds the raw machine segment for topics
// scoped by device; order topics carry the device-assigned order id in
// SubID instead (the machine id lives in the order payload).
type Classification struct {
	Topic     string
	Category  Category
	MachineID string
	SubID     string
}

// Classify parses a topic into its classification. The most specific
// patterns win: order/processed/{id} classifies before order/{id}.
func Classify(topic string) Classification {
	cls := Classification{Topic: topic, Category: CategoryUnknown}

	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != topicRoot {
		return cls
	}

	switch parts[1] {
	case "heartbeat":
		cls.Category = CategoryHeartbeat
		cls.MachineID = parts[2]
	case "state":
		cls.Category = CategoryState
		cls.MachineID = parts[2]
	case "command":
		cls.Category = CategoryCommand
		cls.MachineID = parts[2]
	case "order":
		if parts[2] == "processed" && len(parts) >= 4 {
			cls.Category = CategoryOrderProcessed
			cls.SubID = parts[3]
		} else {
			cls.Category = CategoryOrder
			cls.SubID = parts[2]
		}
	case "inventory":
		if len(parts) < 4 {
			return cls
		}
		switch parts[2] {
		case "request":
			cls.Category = CategoryInventoryRequest
			cls.MachineID = parts[3]
		case "response":
			cls.Category = CategoryInventoryResponse
			cls.MachineID = parts[3]
		}
	}
	return cls
}

// Topic builders for the fixed topic space.

func HeartbeatTopic(machineID string) string { return topicRoot + "/heartbeat/" + machineID }

func StateTopic(machineID string) string { return topicRoot + "/state/" + machineID }

func OrderTopic(orderID string) string { return topicRoot + "/order/" + orderID }

func OrderProcessedTopic(orderID string) string { return topicRoot + "/order/processed/" + orderID }

func InventoryRequestTopic(machineID string) string {
	return topicRoot + "/inventory/request/" + machineID
}

func InventoryResponseTopic(machineID string) string {
	return topicRoot + "/inventory/response/" + machineID
}

func CommandTopic(machineID string) string { return topicRoot + "/command/" + machineID }
