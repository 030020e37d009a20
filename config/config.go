// Package config loads the process-level configuration §6 calls out as
// external to the compile-time capacity constants: socket addresses and
// the multicast groups. Per-client-session strategy parameters (clip,
// threshold, risk limits) are Out-of-scope per §1 and are never read by
// this package.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Exchange holds the exchange process's network configuration.
type Exchange struct {
	OrderServerAddr          string `mapstructure:"order_server_addr"`
	Interface                string `mapstructure:"interface"`
	IncrementalMulticastIP   string `mapstructure:"incremental_multicast_ip"`
	IncrementalMulticastPort int    `mapstructure:"incremental_multicast_port"`
	SnapshotMulticastIP      string `mapstructure:"snapshot_multicast_ip"`
	SnapshotMulticastPort    int    `mapstructure:"snapshot_multicast_port"`
	MetricsAddr              string `mapstructure:"metrics_addr"`
	LogFile                  string `mapstructure:"log_file"`
}

// Trading holds the trading process's network configuration.
type Trading struct {
	ExchangeAddr             string `mapstructure:"exchange_addr"`
	ClientId                 uint32 `mapstructure:"client_id"`
	Interface                string `mapstructure:"interface"`
	IncrementalMulticastIP   string `mapstructure:"incremental_multicast_ip"`
	IncrementalMulticastPort int    `mapstructure:"incremental_multicast_port"`
	SnapshotMulticastIP      string `mapstructure:"snapshot_multicast_ip"`
	SnapshotMulticastPort    int    `mapstructure:"snapshot_multicast_port"`
	MetricsAddr              string `mapstructure:"metrics_addr"`
	LogFile                  string `mapstructure:"log_file"`
}

// LoadExchange reads and unmarshals the exchange process's config file.
func LoadExchange(path string) (*Exchange, error) {
	var cfg Exchange
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadTrading reads and unmarshals the trading process's config file.
func LoadTrading(path string) (*Trading, error) {
	var cfg Trading
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out any) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return nil
}
