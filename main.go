package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/remvend/vendhub/config"
	"github.com/remvend/vendhub/device"
	"github.com/remvend/vendhub/logger"
	"github.com/remvend/vendhub/mqtt"
	"github.com/remvend/vendhub/msglog"
	"github.com/remvend/vendhub/order"
	"github.com/remvend/vendhub/rules"
	"github.com/remvend/vendhub/snapshot"
	"github.com/remvend/vendhub/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath,
		cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Close()

	store, err := storage.New(cfg.Storage.Type, cfg.Storage.DSN)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	defer store.Close()

	var ruleEngine *rules.Engine
	if cfg.Rules.ScriptCode != "" || cfg.Rules.ScriptPath != "" {
		ruleEngine, err = rules.New(cfg.Rules)
		if err != nil {
			log.Fatalf("init alert rules: %v", err)
		}
	}

	client, err := mqtt.NewClient(cfg.MQTT)
	if err != nil {
		log.Fatalf("init MQTT client: %v", err)
	}
	if err := client.Connect(); err != nil {
		log.Fatalf("connect to MQTT broker: %v", err)
	}
	defer client.Disconnect()

	snapshots := snapshot.NewStore()
	logs := msglog.NewStore()
	router := mqtt.NewRouter(client, store, snapshots, logs, order.New(store), ruleEngine)

	for _, topic := range cfg.MQTT.Topics {
		if err := client.Subscribe(topic, router.Handle); err != nil {
			logger.Warn("subscribe to topic %s: %v", topic, err)
		}
	}

	// Rule scripts hot-reload with the config file; MQTT and storage
	// changes need a restart.
	err = config.WatchConfig(*configPath, func(newCfg *config.Config) error {
		if newCfg.Rules.ScriptCode == "" && newCfg.Rules.ScriptPath == "" {
			router.ReloadRules(nil)
			logger.Info("alert rules disabled")
			return nil
		}
		engine, err := rules.New(newCfg.Rules)
		if err != nil {
			return err
		}
		router.ReloadRules(engine)
		return nil
	})
	if err != nil {
		logger.Warn("watch config file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Simulator.Enabled {
		startSimulator(ctx, cfg)
	}

	logger.Info("vendhub started, waiting for device messages...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	cancel()
	logger.Info("vendhub stopped")
}

// startSimulator launches one device mirror per configured machine id,
// each on its own MQTT connection like a real device would be.
func startSimulator(ctx context.Context, cfg *config.Config) {
	for _, machineID := range cfg.Simulator.MachineIDs {
		id := strconv.Itoa(machineID)

		devCfg := cfg.MQTT
		devCfg.ClientID = "" // one generated client id per device
		devClient, err := mqtt.NewClient(devCfg)
		if err != nil {
			logger.Error("simulator: client for machine %s: %v", id, err)
			continue
		}
		if err := devClient.Connect(); err != nil {
			logger.Error("simulator: connect machine %s: %v", id, err)
			continue
		}

		machine := device.NewMachine(id, cfg.Simulator.UserID, devClient)
		for _, topic := range machine.SubscriptionTopics() {
			if err := devClient.Subscribe(topic, machine.HandleMessage); err != nil {
				logger.Error("simulator: subscribe %s for machine %s: %v", topic, id, err)
			}
		}

		go machine.Run(ctx, cfg.Simulator.HeartbeatInterval,
			cfg.Simulator.StateInterval, cfg.Simulator.PurchaseInterval)
		logger.Info("simulator: machine %s running", id)
	}
}
