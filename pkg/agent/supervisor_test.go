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

package agent

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/require"

	"github.com/gufolabs/goagent/pkg/collectors"
	"github.com/gufolabs/goagent/pkg/config"
	"github.com/gufolabs/goagent/pkg/model"
	"github.com/gufolabs/goagent/pkg/sender"
)

// staticCollector emits a single constant gauge. It suppresses the start
// offset so tests observe collections immediately.
type staticCollector struct{}

func (staticCollector) Name() string              { return "static" }
func (staticCollector) SuppressStartOffset() bool { return true }

func (staticCollector) Collect(context.Context) ([]model.Measure, error) {
	return []model.Measure{{
		Name:   "static_value",
		Help:   "A constant",
		Value:  model.Gauge(1),
		Labels: labels.EmptyLabels(),
	}}, nil
}

func init() {
	collectors.Register("static", func(map[string]any) (collectors.Collector, error) {
		return staticCollector{}, nil
	})
}

func testConfig(ccs ...config.CollectorConfig) *config.Config {
	cfg := &config.Config{
		Version:    config.ConfigVersion,
		Type:       "manual",
		Collectors: ccs,
	}
	cfg.Agent.Host = "h1"
	return cfg
}

func newTestSupervisor(t *testing.T) (*Supervisor, *sender.Sender, context.Context) {
	t.Helper()
	snd := sender.New(nil, nil, sender.Options{})
	s := New(nil, snd, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go snd.Run(ctx)
	// Mark the sender started so Apply does not spawn a listener per test.
	s.senderStarted = true
	return s, snd, ctx
}

func TestApplyReconciles(t *testing.T) {
	s, _, ctx := newTestSupervisor(t)

	cfg1 := testConfig(
		config.CollectorConfig{ID: "a", Type: "static", Interval: 3600},
		config.CollectorConfig{ID: "b", Type: "static", Interval: 3600},
	)
	require.NoError(t, s.Apply(ctx, cfg1))
	gen1 := s.Generations()
	require.Len(t, gen1, 2)

	// Same config again: nothing restarts.
	require.NoError(t, s.Apply(ctx, cfg1))
	require.Equal(t, gen1, s.Generations())

	// Drop one, change the other, add a third.
	cfg2 := testConfig(
		config.CollectorConfig{ID: "b", Type: "static", Interval: 60},
		config.CollectorConfig{ID: "c", Type: "static", Interval: 3600},
	)
	require.NoError(t, s.Apply(ctx, cfg2))
	gen2 := s.Generations()
	require.Len(t, gen2, 2)
	require.NotContains(t, gen2, "a")
	require.Contains(t, gen2, "c")
	// b was restarted because its interval changed.
	require.NotEqual(t, gen1["b"], gen2["b"])

	// Applying cfg2 on a fresh supervisor converges to the same shape.
	s2, _, ctx2 := newTestSupervisor(t)
	require.NoError(t, s2.Apply(ctx2, cfg2))
	require.ElementsMatch(t, []string{"b", "c"}, keys(s2.Generations()))
}

func keys(m map[string]uint64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestApplySkipsDisabled(t *testing.T) {
	s, _, ctx := newTestSupervisor(t)

	cfg := testConfig(
		config.CollectorConfig{ID: "a", Type: "static", Interval: 3600},
		config.CollectorConfig{ID: "b", Type: "static", Interval: 3600, Disabled: true},
	)
	require.NoError(t, s.Apply(ctx, cfg))
	require.ElementsMatch(t, []string{"a"}, keys(s.Generations()))

	// Disabling a running collector stops it.
	cfg.Collectors[0].Disabled = true
	require.NoError(t, s.Apply(ctx, cfg))
	require.Empty(t, s.Generations())
}

func TestApplyUnknownTypeKeepsOthers(t *testing.T) {
	s, _, ctx := newTestSupervisor(t)

	cfg := testConfig(
		config.CollectorConfig{ID: "good", Type: "static", Interval: 3600},
		config.CollectorConfig{ID: "bad", Type: "no_such_type", Interval: 3600},
	)
	require.NoError(t, s.Apply(ctx, cfg))
	require.ElementsMatch(t, []string{"good"}, keys(s.Generations()))
}

func TestCollectionFlow(t *testing.T) {
	s, snd, ctx := newTestSupervisor(t)

	cfg := testConfig(config.CollectorConfig{ID: "stat", Type: "static", Interval: 3600})
	require.NoError(t, s.Apply(ctx, cfg))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if out := dump(t, snd); out != "# EOF\n" {
			require.Contains(t, out, "static_value{host=\"h1\"} 1")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no sample collected in time")
}

func dump(t *testing.T, snd *sender.Sender) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, snd.Store().WriteOpenMetrics(&buf))
	return buf.String()
}

func TestAgentLabelsPrecedence(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.Labels = map[string]string{"dc": "east"}

	// Config host.
	s := New(nil, nil, nil, Options{})
	ls := s.agentLabels(cfg)
	require.Equal(t, "h1", ls["host"])
	require.Equal(t, "east", ls["dc"])

	// The hostname flag wins over the config host.
	s = New(nil, nil, nil, Options{Hostname: "flag-host"})
	require.Equal(t, "flag-host", s.agentLabels(cfg)["host"])

	// An explicit host label wins over everything.
	cfg.Agent.Labels["host"] = "label-host"
	require.Equal(t, "label-host", s.agentLabels(cfg)["host"])
}

func TestStartOffsetBounds(t *testing.T) {
	interval := 10 * time.Second
	for i := 0; i < 100; i++ {
		d := startOffset(staticOffsetter{}, interval)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, interval)
	}
	require.Equal(t, time.Duration(0), startOffset(staticCollector{}, interval))
	require.Equal(t, time.Duration(0), startOffset(staticOffsetter{}, 0))
}

// staticOffsetter does not suppress the start offset.
type staticOffsetter struct{}

func (staticOffsetter) Name() string { return "offsetter" }

func (staticOffsetter) Collect(context.Context) ([]model.Measure, error) {
	return nil, nil
}

func TestStopAll(t *testing.T) {
	s, _, ctx := newTestSupervisor(t)
	cfg := testConfig(
		config.CollectorConfig{ID: "a", Type: "static", Interval: 3600},
		config.CollectorConfig{ID: "b", Type: "static", Interval: 3600},
	)
	require.NoError(t, s.Apply(ctx, cfg))
	require.Len(t, s.Generations(), 2)

	s.stopAll()
	require.Empty(t, s.Generations())
}
