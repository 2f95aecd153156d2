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
	"strings"

	"github.com/gufolabs/goagent/pkg/config"
)

// DiscoverConfig assembles a zero-configuration document by probing every
// registered collector that supports discovery. opts is a list of tuning
// items; an item prefixed with "-" disables the named collector.
func DiscoverConfig(opts []string) *config.Config {
	disabled := map[string]bool{}
	for _, opt := range opts {
		opt = strings.TrimSpace(opt)
		if rest, ok := strings.CutPrefix(opt, "-"); ok {
			disabled[rest] = true
		}
	}

	cfg := &config.Config{
		Version: config.ConfigVersion,
		Type:    config.ConfigTypeZeroconf,
	}
	for _, name := range Names() {
		if disabled[name] {
			continue
		}
		coll, err := New(name, map[string]any{})
		if err != nil {
			// Collectors with required config cannot be probed with an
			// empty payload and are left out of the generated config.
			continue
		}
		d, ok := coll.(Discoverer)
		if !ok {
			continue
		}
		payload, ok := d.DiscoverConfig()
		if !ok {
			continue
		}
		cfg.Collectors = append(cfg.Collectors, config.CollectorConfig{
			ID:      name,
			Type:    name,
			Payload: payload,
		})
	}
	return cfg
}
