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

	"github.com/prometheus/prometheus/model/labels"
	"github.com/shirou/gopsutil/mem"

	"github.com/gufolabs/goagent/pkg/model"
)

func init() {
	Register("memory", func(payload map[string]any) (Collector, error) {
		var cfg memoryConfig
		if err := decodePayload(payload, &cfg); err != nil {
			return nil, err
		}
		return &memoryCollector{}, nil
	})
}

type memoryConfig struct{}

type memoryCollector struct{}

func (*memoryCollector) Name() string { return "memory" }

func (*memoryCollector) DiscoverConfig() (map[string]any, bool) {
	return map[string]any{}, true
}

func (*memoryCollector) Collect(ctx context.Context) ([]model.Measure, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	empty := labels.EmptyLabels()
	return []model.Measure{
		{
			Name:   "mem_total",
			Help:   "Total usable memory, bytes",
			Value:  model.Gauge(vm.Total),
			Labels: empty,
		},
		{
			Name:   "mem_available",
			Help:   "Memory available for allocation, bytes",
			Value:  model.Gauge(vm.Available),
			Labels: empty,
		},
		{
			Name:   "mem_used",
			Help:   "Memory in use, bytes",
			Value:  model.Gauge(vm.Used),
			Labels: empty,
		},
		{
			Name:   "mem_free",
			Help:   "Completely unused memory, bytes",
			Value:  model.Gauge(vm.Free),
			Labels: empty,
		},
	}, nil
}
