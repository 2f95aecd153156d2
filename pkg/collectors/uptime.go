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
	"github.com/shirou/gopsutil/host"

	"github.com/gufolabs/goagent/pkg/model"
)

func init() {
	Register("uptime", func(payload map[string]any) (Collector, error) {
		var cfg uptimeConfig
		if err := decodePayload(payload, &cfg); err != nil {
			return nil, err
		}
		return &uptimeCollector{}, nil
	})
}

type uptimeConfig struct{}

type uptimeCollector struct{}

func (*uptimeCollector) Name() string { return "uptime" }

func (*uptimeCollector) DiscoverConfig() (map[string]any, bool) {
	return map[string]any{}, true
}

func (*uptimeCollector) Collect(ctx context.Context) ([]model.Measure, error) {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return []model.Measure{
		{
			Name:   "uptime",
			Help:   "System uptime, seconds",
			Value:  model.Counter(up),
			Labels: labels.EmptyLabels(),
		},
	}, nil
}
