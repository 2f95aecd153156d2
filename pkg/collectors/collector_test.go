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
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gufolabs/goagent/pkg/config"
	"github.com/gufolabs/goagent/pkg/model"
)

func TestRegistry(t *testing.T) {
	names := Names()
	require.True(t, sort.StringsAreSorted(names))
	for _, builtin := range []string{"cpu", "memory", "uptime", "dns", "scrape"} {
		require.Contains(t, names, builtin)
	}

	_, err := New("no_such_type", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no_such_type")

	require.Panics(t, func() {
		Register("cpu", func(map[string]any) (Collector, error) { return nil, nil })
	})
}

func TestRequiredFields(t *testing.T) {
	_, err := New("scrape", map[string]any{})
	require.Error(t, err)

	_, err = New("dns", map[string]any{})
	require.Error(t, err)

	_, err = New("scrape", map[string]any{"url": 42})
	require.Error(t, err)
}

func TestScrapeCollector(t *testing.T) {
	exposition := `# HELP http_requests_total Requests served.
# TYPE http_requests_total counter
http_requests_total{code="200"} 100
http_requests_total{code="500"} 3
# HELP temperature Current temperature.
# TYPE temperature gauge
temperature 21.5
# HELP latency_seconds Request latency.
# TYPE latency_seconds histogram
latency_seconds_bucket{le="+Inf"} 10
latency_seconds_sum 1.5
latency_seconds_count 10
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exposition))
	}))
	defer srv.Close()

	coll, err := New("scrape", map[string]any{"url": srv.URL})
	require.NoError(t, err)
	require.Equal(t, "scrape", coll.Name())

	measures, err := coll.Collect(context.Background())
	require.NoError(t, err)

	byName := map[string][]model.Measure{}
	for _, m := range measures {
		byName[m.Name] = append(byName[m.Name], m)
	}
	require.Len(t, byName["http_requests_total"], 2)
	require.Equal(t, model.MetricTypeCounter, byName["http_requests_total"][0].Value.MetricType())
	require.Equal(t, "Requests served.", byName["http_requests_total"][0].Help)

	require.Len(t, byName["temperature"], 1)
	require.Equal(t, model.MetricTypeGauge, byName["temperature"][0].Value.MetricType())
	require.Equal(t, "21.5", byName["temperature"][0].Value.String())

	// Histograms are not re-ingested.
	require.NotContains(t, byName, "latency_seconds")
}

func TestScrapeCollectorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	coll, err := New("scrape", map[string]any{"url": srv.URL})
	require.NoError(t, err)
	_, err = coll.Collect(context.Background())
	require.Error(t, err)
}

func TestDiscoverConfig(t *testing.T) {
	cfg := DiscoverConfig(nil)
	require.Equal(t, config.ConfigVersion, cfg.Version)
	require.Equal(t, config.ConfigTypeZeroconf, cfg.Type)

	ids := map[string]bool{}
	for _, cc := range cfg.Collectors {
		ids[cc.ID] = true
		require.Equal(t, cc.ID, cc.Type)
	}
	// Probe-based collectors show up, payload-required ones do not.
	require.True(t, ids["cpu"])
	require.True(t, ids["memory"])
	require.True(t, ids["uptime"])
	require.False(t, ids["scrape"])
	require.False(t, ids["dns"])
}

func TestDiscoverConfigDisable(t *testing.T) {
	cfg := DiscoverConfig([]string{"-cpu", " -memory"})
	for _, cc := range cfg.Collectors {
		require.NotEqual(t, "cpu", cc.ID)
		require.NotEqual(t, "memory", cc.ID)
	}
}

func TestDecodePayload(t *testing.T) {
	var cfg scrapeConfig
	err := decodePayload(map[string]any{
		"url":      "http://x",
		"timeout":  7,
		"insecure": true,
	}, &cfg)
	require.NoError(t, err)
	require.Equal(t, scrapeConfig{URL: "http://x", Timeout: 7, Insecure: true}, cfg)
}
