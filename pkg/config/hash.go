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

package config

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Hash returns a stable hash over the semantic fields of a collector
// configuration: id, type, interval, disabled flag, labels and the inner
// payload. Mapping keys are hashed in sorted order, so textually different
// but semantically identical documents hash equally. The supervisor restarts
// a collector exactly when its hash changes.
func Hash(c *CollectorConfig) uint64 {
	h := xxhash.New()
	writeField(h, "id", c.ID)
	writeField(h, "type", c.Type)
	writeField(h, "interval", strconv.Itoa(c.Interval))
	writeField(h, "disabled", strconv.FormatBool(c.Disabled))

	names := make([]string, 0, len(c.Labels))
	for name := range c.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeField(h, "label."+name, c.Labels[name])
	}

	_, _ = io.WriteString(h, "payload:")
	writeCanonical(h, c.Payload)
	return h.Sum64()
}

func writeField(w io.Writer, name, value string) {
	// Length-prefix values so adjacent fields cannot alias.
	fmt.Fprintf(w, "%s=%d:%s;", name, len(value), value)
}

// writeCanonical writes a deterministic representation of a decoded YAML
// value: mappings by sorted key, sequences in order, scalars by type and
// literal value.
func writeCanonical(w io.Writer, v any) {
	switch val := v.(type) {
	case map[string]any:
		_, _ = io.WriteString(w, "{")
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeField(w, "key", k)
			writeCanonical(w, val[k])
		}
		_, _ = io.WriteString(w, "}")
	case []any:
		_, _ = io.WriteString(w, "[")
		for _, item := range val {
			writeCanonical(w, item)
			_, _ = io.WriteString(w, ",")
		}
		_, _ = io.WriteString(w, "]")
	case nil:
		_, _ = io.WriteString(w, "~")
	default:
		fmt.Fprintf(w, "%T(%v);", val, val)
	}
}
