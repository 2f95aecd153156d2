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

package store

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/prometheus/model/labels"
)

// ContentType is the HTTP content type of the exposition output.
const ContentType = "application/openmetrics-text; version=1.0.0; charset=utf-8"

// WriteOpenMetrics serializes the entire store in OpenMetrics text form.
// Families are emitted in ascending (collector, name) order, samples within a
// family in canonical label order. The stream is terminated by "# EOF".
func (s *Store) WriteOpenMetrics(w io.Writer) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	keys := make([]familyKey, 0, len(s.families))
	for key := range s.families {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].collector != keys[j].collector {
			return keys[i].collector < keys[j].collector
		}
		return keys[i].name < keys[j].name
	})

	for _, key := range keys {
		if err := writeFamily(w, key.name, s.families[key]); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "# EOF\n")
	return err
}

func writeFamily(w io.Writer, name string, fam *family) error {
	if fam.help != "" {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n", name, escapeHelp(fam.help)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", name, fam.typ); err != nil {
		return err
	}

	samples := make([]sample, 0, len(fam.samples))
	for _, smp := range fam.samples {
		samples = append(samples, smp)
	}
	// Identical label sets with differing value or timestamp are unreachable
	// by construction, but the full triple keeps the sort stable.
	sort.Slice(samples, func(i, j int) bool {
		if c := labels.Compare(samples[i].labels, samples[j].labels); c != 0 {
			return c < 0
		}
		if vi, vj := samples[i].value.String(), samples[j].value.String(); vi != vj {
			return vi < vj
		}
		return samples[i].ts < samples[j].ts
	})

	for _, smp := range samples {
		if err := writeSample(w, name, smp); err != nil {
			return err
		}
	}
	return nil
}

func writeSample(w io.Writer, name string, smp sample) error {
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	if smp.labels.Len() > 0 {
		if err := writeLabels(w, smp.labels); err != nil {
			return err
		}
	}
	if smp.ts > 0 {
		_, err := fmt.Fprintf(w, " %s %d\n", smp.value, smp.ts)
		return err
	}
	_, err := fmt.Fprintf(w, " %s\n", smp.value)
	return err
}

func writeLabels(w io.Writer, lset labels.Labels) error {
	if _, err := io.WriteString(w, "{"); err != nil {
		return err
	}
	first := true
	var rangeErr error
	lset.Range(func(l labels.Label) {
		if rangeErr != nil {
			return
		}
		sep := ","
		if first {
			sep = ""
			first = false
		}
		_, rangeErr = fmt.Fprintf(w, `%s%s="%s"`, sep, l.Name, escapeLabelValue(l.Value))
	})
	if rangeErr != nil {
		return rangeErr
	}
	_, err := io.WriteString(w, "}")
	return err
}

var (
	helpEscaper       = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
)

func escapeHelp(s string) string       { return helpEscaper.Replace(s) }
func escapeLabelValue(s string) string { return labelValueEscaper.Replace(s) }
