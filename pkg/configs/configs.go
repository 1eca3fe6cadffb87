// Package configs loads the caliban configuration file.
package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/google/caliban-sub000/pkg/history/engine"
)

type Config struct {
	// owner recorded on groups, experiments, jobs and runs.
	User string `yaml:"user"`

	Storage engine.Config `yaml:"storage"`

	CAIP CAIPConfig `yaml:"caip"`
	GKE  GKEConfig  `yaml:"gke"`

	Monitor MonitorConfig `yaml:"monitor"`
}

type CAIPConfig struct {
	Project string `yaml:"project"`

	// path of the service account JSON key file; empty disables the
	// CAIP backend.
	ServiceAccountKey string `yaml:"serviceAccountKey"`

	// override for tests and private endpoints.
	Endpoint string `yaml:"endpoint"`
}

type GKEConfig struct {
	// kubeconfig path; empty falls through to the default loading
	// rules (and disables the backend when no cluster is reachable).
	Kubeconfig string `yaml:"kubeconfig"`
	Namespace  string `yaml:"namespace"`
}

type MonitorConfig struct {
	// pause between reconciliation sweeps.
	Interval time.Duration `yaml:"interval"`
}

// Default locates the config file under the user's home directory.
func Default() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".caliban", "config.yaml")
}

// Load reads and validates path. A missing file yields the zero
// configuration (everything local, anonymous user) rather than an
// error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.fillDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.User == "" {
		c.User = os.Getenv("USER")
	}
	if c.GKE.Namespace == "" {
		c.GKE.Namespace = "default"
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = 30 * time.Second
	}
}
