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

package collectors

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/prometheus/model/labels"

	"github.com/gufolabs/goagent/pkg/model"
)

func init() {
	Register("dns", func(payload map[string]any) (Collector, error) {
		var cfg dnsConfig
		if err := decodePayload(payload, &cfg); err != nil {
			return nil, err
		}
		if cfg.Query == "" {
			return nil, fmt.Errorf("dns collector requires query")
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = 5
		}
		return &dnsCollector{cfg: cfg}, nil
	})
}

type dnsConfig struct {
	// Query is the name to resolve each cycle.
	Query string `yaml:"query"`
	// Timeout bounds the lookup, in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

// dnsCollector measures resolver availability and latency. The request and
// failure counters accumulate across cycles for the lifetime of the task.
type dnsCollector struct {
	cfg      dnsConfig
	resolver net.Resolver

	requests uint64
	failed   uint64
}

func (*dnsCollector) Name() string { return "dns" }

func (c *dnsCollector) Collect(ctx context.Context) ([]model.Measure, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.Timeout)*time.Second)
	defer cancel()

	start := time.Now()
	_, err := c.resolver.LookupHost(ctx, c.cfg.Query)
	elapsed := time.Since(start)

	c.requests++
	if err != nil {
		c.failed++
	}

	lset := labels.FromStrings("query", c.cfg.Query)
	return []model.Measure{
		{
			Name:   "dns_requests_total",
			Help:   "Total DNS requests performed",
			Value:  model.Counter(c.requests),
			Labels: lset,
		},
		{
			Name:   "dns_failed_total",
			Help:   "Total failed DNS requests",
			Value:  model.Counter(c.failed),
			Labels: lset,
		},
		{
			Name:   "dns_time_seconds",
			Help:   "Duration of the last DNS request",
			Value:  model.GaugeFloat(elapsed.Seconds()),
			Labels: lset,
		},
	}, nil
}
