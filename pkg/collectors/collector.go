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

// Package collectors provides the collector contract, the registry of
// available collector types and the built-in collectors shipped with the
// agent.
package collectors

import (
	"context"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/gufolabs/goagent/pkg/model"
)

// Collector produces measures on demand. Collect may perform I/O and block;
// it must honor cancellation of the passed context.
type Collector interface {
	// Name is the static collector type name.
	Name() string
	// Collect performs one collection cycle.
	Collect(ctx context.Context) ([]model.Measure, error)
}

// OffsetSuppressor is implemented by collectors that must start immediately
// instead of being desynchronized with a random offset, e.g. ones binding a
// listening socket. The scheduler randomizes the start offset of every
// collector that does not implement it.
type OffsetSuppressor interface {
	SuppressStartOffset() bool
}

// Discoverer is implemented by collectors that can probe the host and
// propose a working configuration payload for zero-config mode.
type Discoverer interface {
	// DiscoverConfig returns a config payload, or false when the collector
	// is not applicable on this host.
	DiscoverConfig() (map[string]any, bool)
}

// Factory builds a collector from its type-specific config payload.
type Factory func(payload map[string]any) (Collector, error)

var registry = map[string]Factory{}

// Register adds a collector type. It is called from init functions of the
// built-in collectors and panics on duplicates.
func Register(name string, f Factory) {
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("collector type %q registered twice", name))
	}
	registry[name] = f
}

// New instantiates a collector of the given type.
func New(typ string, payload map[string]any) (Collector, error) {
	f, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown collector type %q", typ)
	}
	return f(payload)
}

// Names returns all registered collector type names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodePayload decodes a raw config payload into a typed collector config.
func decodePayload(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "yaml",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("decoding collector config: %w", err)
	}
	return nil
}
