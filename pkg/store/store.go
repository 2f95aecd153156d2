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

// Package store holds the in-memory, time-indexed metrics state of the agent.
// The store is owned exclusively by the sender; the exposition endpoint takes
// the shared read path.
package store

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/prometheus/model/labels"

	"github.com/gufolabs/goagent/pkg/model"
	"github.com/gufolabs/goagent/pkg/relabel"
)

// Batch is one collection cycle's output from a single collector, as handed
// to the sender.
type Batch struct {
	// Collector is the configured collector ID. Metric families are isolated
	// per collector.
	Collector string
	// Labels are the collector-level labels merged into every sample.
	Labels map[string]string
	// Rules is the optional per-collector relabeling ruleset.
	Rules *relabel.Ruleset
	// Measures are the samples of this cycle.
	Measures []model.Measure
	// Timestamp is the batch collection time in seconds since epoch. It is
	// used for measures that carry no timestamp of their own.
	Timestamp int64
}

// familyKey identifies a metric family. Two collectors may emit the same
// metric name; their families are kept separate.
type familyKey struct {
	collector string
	name      string
}

type sample struct {
	labels labels.Labels
	value  model.Value
	ts     int64
}

type family struct {
	help string
	typ  model.MetricType
	// Samples keyed by the canonical label signature. Insertion overwrites:
	// last write wins.
	samples map[string]sample
}

// Stats summarizes the outcome of applying one batch.
type Stats struct {
	Written         int
	DroppedByRules  int
	DroppedConflict int
	RuleErrors      int
}

// Store maps (collector, metric name) to metric families and keeps the latest
// value per label set. Families are sticky: they survive collector restarts
// and are never deleted for the lifetime of the process.
type Store struct {
	logger log.Logger

	mtx         sync.RWMutex
	agentLabels map[string]string
	families    map[familyKey]*family
}

// New returns an empty store.
func New(logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{
		logger:   logger,
		families: map[familyKey]*family{},
	}
}

// SetAgentLabels replaces the agent-scope label set applied to all samples.
func (s *Store) SetAgentLabels(ls map[string]string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.agentLabels = ls
}

// ApplyData runs each measure of the batch through relabeling and inserts the
// surviving samples. Per-sample failures are logged and skipped; the rest of
// the batch proceeds.
func (s *Store) ApplyData(b *Batch) Stats {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var st Stats
	for i := range b.Measures {
		m := &b.Measures[i]
		active := s.activeLabels(b, m)

		if b.Rules != nil && b.Rules.Len() > 0 {
			keep, err := b.Rules.Process(active)
			if err != nil {
				_ = level.Error(s.logger).Log("msg", "relabel rule failed", "collector", b.Collector, "metric", m.Name, "err", err)
				st.RuleErrors++
				continue
			}
			if !keep {
				st.DroppedByRules++
				continue
			}
		}

		name := m.Name
		if n, ok := active[model.MetricNameLabel]; ok {
			name = n
		}
		lset := outputLabels(active)

		key := familyKey{collector: b.Collector, name: name}
		fam, ok := s.families[key]
		if !ok {
			fam = &family{
				help:    m.Help,
				typ:     m.Value.MetricType(),
				samples: map[string]sample{},
			}
			s.families[key] = fam
		} else if fam.typ != m.Value.MetricType() {
			_ = level.Error(s.logger).Log("msg", "metric type conflict, sample dropped",
				"collector", b.Collector, "metric", name, "have", fam.typ, "got", m.Value.MetricType())
			st.DroppedConflict++
			continue
		}

		ts := m.Timestamp
		if ts == 0 {
			ts = b.Timestamp
		}
		fam.samples[lset.String()] = sample{labels: lset, value: m.Value, ts: ts}
		st.Written++
	}
	return st
}

// activeLabels builds the merged virtual label set consumed by relabeling.
// Precedence, low to high: agent labels, collector labels, measure labels,
// then the synthetic __name__ label.
func (s *Store) activeLabels(b *Batch, m *model.Measure) map[string]string {
	active := make(map[string]string, len(s.agentLabels)+len(b.Labels)+m.Labels.Len()+1)
	for k, v := range s.agentLabels {
		active[k] = v
	}
	for k, v := range b.Labels {
		active[k] = v
	}
	m.Labels.Range(func(l labels.Label) {
		active[l.Name] = l.Value
	})
	active[model.MetricNameLabel] = m.Name
	return active
}

// outputLabels materializes the serializable label set from the active set,
// stripping all virtual labels.
func outputLabels(active map[string]string) labels.Labels {
	b := labels.NewScratchBuilder(len(active))
	for k, v := range active {
		if model.IsVirtualLabel(k) {
			continue
		}
		b.Add(k, v)
	}
	b.Sort()
	return b.Labels()
}
