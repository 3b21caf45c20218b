// Package rules evaluates configurable alert scripts against state
// telemetry. A script defines an evaluate(state) function receiving
// {machineId, temperature, status, alerts} and returning an alert
// string; an empty string means no alert. Scripts hot-reload with the
// configuration file.
package rules

import (
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"

	"github.com/remvend/vendhub/config"
	"github.com/remvend/vendhub/logger"
)

// State is the telemetry handed to the script.
type State struct {
	MachineID   string  `json:"machineId"`
	Temperature float64 `json:"temperature"`
	Status      int     `json:"status"`
	Alerts      string  `json:"alerts"`
}

// Engine runs the configured alert script. The goja runtime is not
// safe for concurrent use, so evaluation is serialized by a mutex.
type Engine struct {
	mu       sync.Mutex
	vm       *goja.Runtime
	evaluate goja.Callable
}

// New builds an engine from the rules configuration. Inline script code
// takes precedence over a script path.
func New(cfg config.RulesConfig) (*Engine, error) {
	e := &Engine{}
	if err := e.Reload(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces the running script. Grounds the config watcher's rule
// hot-reload; the swap happens under the evaluation mutex.
func (e *Engine) Reload(cfg config.RulesConfig) error {
	script, err := loadScript(cfg)
	if err != nil {
		return err
	}

	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[rules] %s", msg)
	})
	_ = vm.Set("inRange", func(value, min, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(script); err != nil {
		return fmt.Errorf("run rules script: %w", err)
	}

	fnValue := vm.Get("evaluate")
	if fnValue == nil {
		return fmt.Errorf("rules script does not define an 'evaluate' function")
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return fmt.Errorf("'evaluate' is not a function")
	}

	e.mu.Lock()
	e.vm = vm
	e.evaluate = fn
	e.mu.Unlock()

	logger.Info("alert rules script loaded")
	return nil
}

// Evaluate runs the script against one state report and returns the
// produced alert string, empty when the script raises nothing.
func (e *Engine) Evaluate(s State) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.evaluate(goja.Undefined(), e.vm.ToValue(map[string]interface{}{
		"machineId":   s.MachineID,
		"temperature": s.Temperature,
		"status":      s.Status,
		"alerts":      s.Alerts,
	}))
	if err != nil {
		return "", fmt.Errorf("evaluate rules: %w", err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return "", nil
	}
	return result.String(), nil
}

func loadScript(cfg config.RulesConfig) (string, error) {
	if cfg.ScriptCode != "" {
		return cfg.ScriptCode, nil
	}
	if cfg.ScriptPath != "" {
		code, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return "", fmt.Errorf("load rules script %s: %w", cfg.ScriptPath, err)
		}
		return string(code), nil
	}
	return "", fmt.Errorf("no rules script code or path configured")
}
