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
	"github.com/shirou/gopsutil/cpu"

	"github.com/gufolabs/goagent/pkg/model"
)

func init() {
	Register("cpu", func(payload map[string]any) (Collector, error) {
		var cfg cpuConfig
		if err := decodePayload(payload, &cfg); err != nil {
			return nil, err
		}
		return &cpuCollector{}, nil
	})
}

type cpuConfig struct{}

// cpuCollector reports cumulative per-CPU time counters.
type cpuCollector struct{}

func (*cpuCollector) Name() string { return "cpu" }

func (*cpuCollector) DiscoverConfig() (map[string]any, bool) {
	return map[string]any{}, true
}

func (*cpuCollector) Collect(ctx context.Context) ([]model.Measure, error) {
	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	measures := make([]model.Measure, 0, len(times)*4)
	for _, t := range times {
		lset := labels.FromStrings("cpu", t.CPU)
		measures = append(measures,
			model.Measure{
				Name:   "cpu_user",
				Help:   "CPU time spent in user mode, seconds",
				Value:  model.CounterFloat(t.User),
				Labels: lset,
			},
			model.Measure{
				Name:   "cpu_system",
				Help:   "CPU time spent in system mode, seconds",
				Value:  model.CounterFloat(t.System),
				Labels: lset,
			},
			model.Measure{
				Name:   "cpu_idle",
				Help:   "CPU idle time, seconds",
				Value:  model.CounterFloat(t.Idle),
				Labels: lset,
			},
			model.Measure{
				Name:   "cpu_iowait",
				Help:   "CPU time spent waiting for I/O, seconds",
				Value:  model.CounterFloat(t.Iowait),
				Labels: lset,
			},
		)
	}
	return measures, nil
}
