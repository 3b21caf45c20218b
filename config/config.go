package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/remvend/vendhub/logger"
)

// Config is the full application configuration.
type Config struct {
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// MQTTConfig holds the broker connection settings. QoS applies to every
// publish; 1 (at-least-once) is the default when unset.
type MQTTConfig struct {
	Broker   string   `mapstructure:"broker"`
	ClientID string   `mapstructure:"client_id"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	QoS      byte     `mapstructure:"qos"`
	Topics   []string `mapstructure:"topics"`
}

// StorageConfig selects and configures the database backend.
type StorageConfig struct {
	Type string `mapstructure:"type"` // mysql or postgresql
	DSN  string `mapstructure:"dsn"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// RulesConfig configures the scripted alert evaluation for state
// telemetry. ScriptCode takes precedence over ScriptPath; both empty
// disables rule evaluation.
type RulesConfig struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// SimulatorConfig configures the embedded device mirrors. The state
// interval doubles as the inventory re-sync interval, since a device
// requests inventory before every state report; lowering it narrows the
// staleness window of the device-side stock view.
type SimulatorConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MachineIDs        []int         `mapstructure:"machine_ids"`
	UserID            int           `mapstructure:"user_id"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StateInterval     time.Duration `mapstructure:"state_interval"`
	PurchaseInterval  time.Duration `mapstructure:"purchase_interval"`
}

// ChangeCallback is invoked with the re-parsed configuration whenever
// the config file changes on disk.
type ChangeCallback func(cfg *Config) error

// LoadConfig loads the configuration from the given YAML file.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.topics", []string{"vendingmachine/#"})
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.file_path", "./logs/vendhub.log")
	viper.SetDefault("logger.max_size", 10)
	viper.SetDefault("logger.max_backups", 5)
	viper.SetDefault("logger.console", true)
	viper.SetDefault("simulator.heartbeat_interval", 30*time.Second)
	viper.SetDefault("simulator.state_interval", 60*time.Second)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// WatchConfig watches the configuration file and invokes the callback on
// change. Write events are debounced because editors commonly fire
// several in quick succession.
func WatchConfig(configPath string, callback ChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	viper.SetConfigFile(absPath)
	viper.WatchConfig()

	var lastChange time.Time
	const debounce = 2 * time.Second

	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write != fsnotify.Write {
			return
		}
		now := time.Now()
		if now.Sub(lastChange) < debounce {
			return
		}
		lastChange = now

		logger.Info("config file changed: %s", e.Name)

		var newConfig Config
		if err := viper.Unmarshal(&newConfig); err != nil {
			logger.Error("parse updated config: %v", err)
			return
		}
		if err := callback(&newConfig); err != nil {
			logger.Error("apply updated config: %v", err)
			return
		}
		logger.Info("config applied")
	})

	return nil
}
