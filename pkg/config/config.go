// Copyright 2024 Gufo Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the agent configuration schema and the resolvers
// that fetch it from a file or an HTTP endpoint.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gufolabs/goagent/pkg/relabel"
)

const (
	// ConfigVersion is the accepted value of the $version field.
	ConfigVersion = "1.0"
	// ConfigTypeZeroconf marks a generated zero-configuration document.
	ConfigTypeZeroconf = "zeroconf"

	// DefaultListen is the default exposition bind address.
	DefaultListen = "0.0.0.0:3000"
	// DefaultPath is the default exposition endpoint path.
	DefaultPath = "/metrics"
	// DefaultInterval is the default collection interval in seconds, used
	// when neither the collector nor the agent defaults specify one.
	DefaultInterval = 15
)

// Config is the top-level agent configuration.
type Config struct {
	Version    string            `yaml:"$version"`
	Type       string            `yaml:"$type"`
	Agent      AgentConfig       `yaml:"agent,omitempty"`
	Sender     SenderConfig      `yaml:"sender,omitempty"`
	Collectors []CollectorConfig `yaml:"collectors"`
}

// AgentConfig carries agent-scope settings: the host identity, labels merged
// into every sample, and defaults inherited by collectors.
type AgentConfig struct {
	Host     string            `yaml:"host,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`
	Defaults AgentDefaults     `yaml:"defaults,omitempty"`
}

// AgentDefaults holds values inherited by collectors that do not set their own.
type AgentDefaults struct {
	// Interval is the default collection interval in seconds.
	Interval int `yaml:"interval,omitempty"`
}

// SenderConfig configures the exposition endpoint.
type SenderConfig struct {
	Type     string `yaml:"type,omitempty"` // "openmetrics"
	Mode     string `yaml:"mode,omitempty"` // "pull"
	Listen   string `yaml:"listen,omitempty"`
	Path     string `yaml:"path,omitempty"`
	CertPath string `yaml:"cert_path,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// CollectorConfig is one collector entry. Fields not part of the common
// schema form the collector-type-specific payload.
type CollectorConfig struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Interval int               `yaml:"interval,omitempty"` // Seconds.
	Disabled bool              `yaml:"disabled,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`
	Relabel  []relabel.Config  `yaml:"relabel,omitempty"`
	Payload  map[string]any    `yaml:",inline"`
}

// IntervalDuration returns the effective collection interval.
func (c *CollectorConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Load parses and validates a configuration document.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.setDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaultsAndValidate() error {
	if c.Version != ConfigVersion {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	if c.Type == "" {
		return fmt.Errorf("missing config type")
	}
	if c.Sender.Type == "" {
		c.Sender.Type = "openmetrics"
	}
	if c.Sender.Mode == "" {
		c.Sender.Mode = "pull"
	}
	if c.Sender.Listen == "" {
		c.Sender.Listen = DefaultListen
	}
	if c.Sender.Path == "" {
		c.Sender.Path = DefaultPath
	}
	if c.Agent.Defaults.Interval <= 0 {
		c.Agent.Defaults.Interval = DefaultInterval
	}

	seen := make(map[string]struct{}, len(c.Collectors))
	for i := range c.Collectors {
		cc := &c.Collectors[i]
		if cc.ID == "" {
			return fmt.Errorf("collector %d: missing id", i)
		}
		if cc.Type == "" {
			return fmt.Errorf("collector %q: missing type", cc.ID)
		}
		if _, ok := seen[cc.ID]; ok {
			return fmt.Errorf("duplicate collector id %q", cc.ID)
		}
		seen[cc.ID] = struct{}{}
		if cc.Interval <= 0 {
			cc.Interval = c.Agent.Defaults.Interval
		}
	}
	return nil
}
