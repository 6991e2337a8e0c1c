package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress        string  `toml:"RPCAddress"`
	MetricsAddress    string  `toml:"MetricsAddress"`
	DataDir           string  `toml:"DataDir"`
	AdminAddress      string  `toml:"AdminAddress"`
	LogFile           string  `toml:"LogFile"`
	RPCRequestsPerMin float64 `toml:"RPCRequestsPerMinute"`
	RPCBurst          int     `toml:"RPCBurst"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists. Blank fields fall back to defaults; AdminAddress is left
// empty here because the daemon only needs it on first start, before an admin
// has been persisted.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, undecoded.String())
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./cashbackd-data"
	}
	if cfg.RPCRequestsPerMin <= 0 {
		cfg.RPCRequestsPerMin = 600
	}
	if cfg.RPCBurst <= 0 {
		cfg.RPCBurst = 20
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
