// Standalone manual exerciser: publishes vending machine traffic against
// a running broker so the hub can be tested end to end without real
// devices. Not part of the main module.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type statePayload struct {
	MachineID   string  `json:"machineId"`
	Temperature float64 `json:"temperature"`
	Status      int     `json:"status"`
	Alerts      string  `json:"alerts,omitempty"`
}

type orderLine struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

type orderPayload struct {
	OrderID   string      `json:"orderId"`
	UserID    int         `json:"userId"`
	MachineID string      `json:"machineId"`
	Items     []orderLine `json:"items"`
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	machineID := flag.String("machine", "1", "machine id to publish as")
	userID := flag.Int("user", 1, "user id for order messages")
	mode := flag.String("mode", "continuous", "run mode: heartbeat, state, order, continuous")
	flag.Parse()

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("vendhub-exerciser-%d", time.Now().Unix()))
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}
	fmt.Printf("connected to %s\n", *broker)

	switch *mode {
	case "heartbeat":
		publish(client, "vendingmachine/heartbeat/"+*machineID, []byte("{}"))
	case "state":
		publishState(client, *machineID)
	case "order":
		publishOrder(client, *machineID, *userID)
	case "continuous":
		runContinuous(client, *machineID, *userID)
	default:
		fmt.Println("unknown mode, use heartbeat, state, order or continuous")
		os.Exit(1)
	}

	client.Disconnect(250)
}

func publish(client paho.Client, topic string, payload []byte) {
	token := client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		fmt.Printf("publish to %s: %v\n", topic, err)
		return
	}
	fmt.Printf("published to %s: %s\n", topic, payload)
}

func publishState(client paho.Client, machineID string) {
	state := statePayload{
		MachineID:   machineID,
		Temperature: 4.0 + rand.Float64()*4 - 2,
		Status:      1,
	}
	payload, _ := json.Marshal(state)
	publish(client, "vendingmachine/state/"+machineID, payload)
}

func publishOrder(client paho.Client, machineID string, userID int) {
	orderID := fmt.Sprintf("EX-%s-%d", machineID, time.Now().UnixMilli())
	order := orderPayload{
		OrderID:   orderID,
		UserID:    userID,
		MachineID: machineID,
		Items:     []orderLine{{ProductID: rand.Intn(5) + 1, Quantity: rand.Intn(2) + 1}},
	}
	payload, _ := json.Marshal(order)
	publish(client, "vendingmachine/order/"+orderID, payload)
}

func runContinuous(client paho.Client, machineID string, userID int) {
	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()
	state := time.NewTicker(20 * time.Second)
	defer state.Stop()
	order := time.NewTicker(45 * time.Second)
	defer order.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("publishing continuously, Ctrl+C to stop")
	for {
		select {
		case <-heartbeat.C:
			publish(client, "vendingmachine/heartbeat/"+machineID, []byte("{}"))
		case <-state.C:
			publishState(client, machineID)
		case <-order.C:
			publishOrder(client, machineID, userID)
		case <-sigChan:
			return
		}
	}
}
