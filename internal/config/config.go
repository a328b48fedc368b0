// Package config loads the statecopy configuration file. One base
// configuration is loaded per process and cloned per store handle, with
// the selected backend kind injected into the clone; both handles
// otherwise share the same settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration. Store is not read from the file: the
// registry injects it into each clone when a handle is opened.
type Config struct {
	Store string `yaml:"-"`

	// InitRetries bounds how many times opening a backend is retried
	// with exponential backoff before the run fails.
	InitRetries uint64 `yaml:"init-retries"`

	FS  FSConfig  `yaml:"fs"`
	ZK  ZKConfig  `yaml:"zk"`
	SQL SQLConfig `yaml:"sql"`
}

// FSConfig configures the file-tree backend.
type FSConfig struct {
	// Root is the directory holding the state tree. Created if absent.
	Root string `yaml:"root"`
}

// ZKConfig configures the ZooKeeper backend.
type ZKConfig struct {
	Servers        []string      `yaml:"servers"`
	Chroot         string        `yaml:"chroot"`
	SessionTimeout time.Duration `yaml:"session-timeout"`
}

// SQLConfig configures the SQLite backend.
type SQLConfig struct {
	// Path is the database file. Created if absent.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		InitRetries: 3,
		ZK: ZKConfig{
			Chroot:         "/rmstore",
			SessionTimeout: 10 * time.Second,
		},
	}
}

// Load reads a yaml configuration file on top of the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Clone returns a deep copy, so per-handle kind injection never leaks
// into the other handle's view.
func (c *Config) Clone() *Config {
	cp := *c
	cp.ZK.Servers = append([]string(nil), c.ZK.Servers...)
	return &cp
}
