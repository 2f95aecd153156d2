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

import "strconv"

// MetricType is the OpenMetrics type of a metric family.
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Value is a single sample value. The concrete variant determines the
// OpenMetrics type of the family the sample belongs to. Values are immutable;
// a new sample for the same (family, label set) overwrites the previous one.
type Value interface {
	// MetricType returns the OpenMetrics type implied by the variant.
	MetricType() MetricType
	// String renders the value in its OpenMetrics wire form.
	String() string
}

// Counter is a monotonically increasing unsigned integer value.
type Counter uint64

// Gauge is an unsigned integer value that may go up and down.
type Gauge uint64

// GaugeSigned is a signed integer gauge.
type GaugeSigned int64

// GaugeFloat is a floating-point gauge.
type GaugeFloat float64

// CounterFloat is a monotonically increasing floating-point value.
type CounterFloat float64

func (Counter) MetricType() MetricType      { return MetricTypeCounter }
func (Gauge) MetricType() MetricType        { return MetricTypeGauge }
func (GaugeSigned) MetricType() MetricType  { return MetricTypeGauge }
func (GaugeFloat) MetricType() MetricType   { return MetricTypeGauge }
func (CounterFloat) MetricType() MetricType { return MetricTypeCounter }

func (v Counter) String() string     { return strconv.FormatUint(uint64(v), 10) }
func (v Gauge) String() string       { return strconv.FormatUint(uint64(v), 10) }
func (v GaugeSigned) String() string { return strconv.FormatInt(int64(v), 10) }

// Floats use the shortest representation that round-trips, which yields the
// natural decimal form for values like 12.5.
func (v GaugeFloat) String() string   { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v CounterFloat) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
