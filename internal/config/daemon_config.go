package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// DaemonConfig is the layered configuration for the subscription
// daemon (spec.md §6.4): defaults, an optional YAML file, then
// environment variables, in increasing precedence, grounded on
// internal/labelmutex/policy.go's viper.New()+SetConfigFile bootstrap
// pattern.
type DaemonConfig struct {
	ListenAddr    string        `mapstructure:"listen_addr"`
	DBPath        string        `mapstructure:"db_path"`
	BinPath       string        `mapstructure:"bin_path"`
	RuntimeDir    string        `mapstructure:"runtime_dir"`
	ChangeLogPath string        `mapstructure:"change_log_path"`
	Debounce      time.Duration `mapstructure:"debounce"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
}

func defaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		ListenAddr: "127.0.0.1:7777",
		BinPath:    "bd",
		RuntimeDir: "",
		Debounce:   250 * time.Millisecond,
		Heartbeat:  30 * time.Second,
		RunTimeout: 30 * time.Second,
	}
}

// LoadDaemonConfig reads configPath (if non-empty and present), layers
// BDVIEWD_*-prefixed environment variables on top, and returns the
// resolved configuration. A missing configPath is not an error — the
// daemon runs on defaults plus environment overrides alone.
func LoadDaemonConfig(configPath string) (DaemonConfig, error) {
	v := viper.New()
	defaults := defaultDaemonConfig()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("bin_path", defaults.BinPath)
	v.SetDefault("runtime_dir", defaults.RuntimeDir)
	v.SetDefault("debounce", defaults.Debounce)
	v.SetDefault("heartbeat", defaults.Heartbeat)
	v.SetDefault("run_timeout", defaults.RunTimeout)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !isFileNotExist(err) {
				return DaemonConfig{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	_ = v.BindEnv("db_path", "BDVIEWD_DB_PATH")
	_ = v.BindEnv("bin_path", "BD_BIN")
	_ = v.BindEnv("runtime_dir", "BDVIEWD_RUNTIME_DIR")
	_ = v.BindEnv("listen_addr", "BDVIEWD_LISTEN_ADDR")

	var cfg DaemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return DaemonConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	// BDVIEWD_DEBOUNCE_MS/BDVIEWD_HEARTBEAT_SECS are plain integers, not
	// Go duration strings, so they are applied by hand rather than
	// through viper's struct decoding.
	if raw := os.Getenv("BDVIEWD_DEBOUNCE_MS"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			cfg.Debounce = time.Duration(ms) * time.Millisecond
		}
	}
	if raw := os.Getenv("BDVIEWD_HEARTBEAT_SECS"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			cfg.Heartbeat = time.Duration(secs) * time.Second
		}
	}

	return cfg, nil
}

func isFileNotExist(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}
