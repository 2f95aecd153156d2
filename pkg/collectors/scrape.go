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
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/prometheus/model/labels"

	"github.com/gufolabs/goagent/pkg/model"
)

func init() {
	Register("scrape", func(payload map[string]any) (Collector, error) {
		var cfg scrapeConfig
		if err := decodePayload(payload, &cfg); err != nil {
			return nil, err
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("scrape collector requires url")
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = 10
		}
		transport := cleanhttp.DefaultPooledTransport()
		if cfg.Insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return &scrapeCollector{
			cfg: cfg,
			client: &http.Client{
				Transport: transport,
				Timeout:   time.Duration(cfg.Timeout) * time.Second,
			},
		}, nil
	})
}

type scrapeConfig struct {
	// URL of the metrics endpoint to re-ingest.
	URL string `yaml:"url"`
	// Timeout bounds the whole scrape, in seconds.
	Timeout int `yaml:"timeout,omitempty"`
	// Insecure disables TLS certificate validation for the target.
	Insecure bool `yaml:"insecure,omitempty"`
}

// scrapeCollector fetches an exposition endpoint and converts its counter
// and gauge samples into measures. Histograms and summaries are skipped.
type scrapeCollector struct {
	cfg    scrapeConfig
	client *http.Client
}

func (*scrapeCollector) Name() string { return "scrape" }

func (c *scrapeCollector) Collect(ctx context.Context) ([]model.Measure, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraping %q: %w", c.cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scraping %q: unexpected status %s", c.cfg.URL, resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing scrape of %q: %w", c.cfg.URL, err)
	}

	var measures []model.Measure
	for _, fam := range families {
		for _, metric := range fam.Metric {
			m, ok := convertMetric(fam, metric)
			if !ok {
				continue
			}
			measures = append(measures, m)
		}
	}
	return measures, nil
}

func convertMetric(fam *dto.MetricFamily, metric *dto.Metric) (model.Measure, bool) {
	var value model.Value
	switch fam.GetType() {
	case dto.MetricType_COUNTER:
		value = model.CounterFloat(metric.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		value = model.GaugeFloat(metric.GetGauge().GetValue())
	case dto.MetricType_UNTYPED:
		value = model.GaugeFloat(metric.GetUntyped().GetValue())
	default:
		return model.Measure{}, false
	}

	b := labels.NewScratchBuilder(len(metric.Label))
	for _, pair := range metric.Label {
		b.Add(pair.GetName(), pair.GetValue())
	}
	b.Sort()

	m := model.Measure{
		Name:   fam.GetName(),
		Help:   fam.GetHelp(),
		Value:  value,
		Labels: b.Labels(),
	}
	if ts := metric.GetTimestampMs(); ts > 0 {
		m.Timestamp = ts / 1000
	}
	return m, true
}
