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

package model

import (
	"fmt"
	"strings"

	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/model/labels"
)

// MetricNameLabel is the virtual label carrying the metric name during
// relabeling.
const MetricNameLabel = model.MetricNameLabel

// Measure is one observation produced by a collector: a named value with
// help text, labels and an optional timestamp. A zero Timestamp means the
// store stamps the sample with the batch arrival time.
type Measure struct {
	Name      string
	Help      string
	Value     Value
	Labels    labels.Labels
	Timestamp int64 // Seconds since epoch, 0 if unset.
}

// Validate checks the measure against the metric name and label grammars.
func (m *Measure) Validate() error {
	if !model.IsValidLegacyMetricName(m.Name) {
		return fmt.Errorf("invalid metric name %q", m.Name)
	}
	if m.Value == nil {
		return fmt.Errorf("measure %q has no value", m.Name)
	}
	var err error
	m.Labels.Range(func(l labels.Label) {
		if err != nil {
			return
		}
		if !model.LabelName(l.Name).IsValidLegacy() {
			err = fmt.Errorf("measure %q: invalid label name %q", m.Name, l.Name)
		}
	})
	return err
}

// IsVirtualLabel reports whether a label is reserved for internal use and
// must never be serialized. Virtual labels carry metadata like the metric
// name (__name__) or discovery attributes (__meta_*) through the relabeling
// pipeline.
func IsVirtualLabel(name string) bool {
	return strings.HasPrefix(name, model.ReservedLabelPrefix)
}
