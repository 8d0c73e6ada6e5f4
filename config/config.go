package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

type Config struct {
	RPCAddress      string    `toml:"RPCAddress"`
	DataDir         string    `toml:"DataDir"`
	DatabaseBackend string    `toml:"DatabaseBackend"`
	GenesisFile     string    `toml:"GenesisFile"`
	MilestonesFile  string    `toml:"MilestonesFile"`
	NetworkName     string    `toml:"NetworkName"`
	AddressPrefix   string    `toml:"AddressPrefix"`
	LogFile         string    `toml:"LogFile"`
	Global          Global    `toml:"global"`
	Telemetry       Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{Global: DefaultGlobal()}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "dpos-devnet"
	}
	if strings.TrimSpace(cfg.AddressPrefix) == "" {
		cfg.AddressPrefix = "dtst"
	}
	if strings.TrimSpace(cfg.DatabaseBackend) == "" {
		cfg.DatabaseBackend = BackendLevelDB
	}
	cfg.DatabaseBackend = strings.ToLower(strings.TrimSpace(cfg.DatabaseBackend))
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = ":4003"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./ledger-data"
	}
}

func (cfg *Config) validate() error {
	switch cfg.DatabaseBackend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("unsupported DatabaseBackend %q", cfg.DatabaseBackend)
	}
	return ValidateConfig(cfg.Global)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:      ":4003",
		DataDir:         "./ledger-data",
		DatabaseBackend: BackendLevelDB,
		NetworkName:     "dpos-devnet",
		AddressPrefix:   "dtst",
		Global:          DefaultGlobal(),
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
