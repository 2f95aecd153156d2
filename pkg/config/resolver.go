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
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
)

// Resolver produces fresh configurations for the supervisor.
type Resolver interface {
	// Location returns the config source location for logging.
	Location() string
	// Repeatable reports whether the supervisor should poll for updates.
	Repeatable() bool
	// Failable reports whether transient resolve errors should be swallowed.
	Failable() bool
	// Sleep blocks between configure cycles. succeeded selects between the
	// regular poll delay and the failure backoff. It returns early when ctx
	// is cancelled.
	Sleep(ctx context.Context, succeeded bool)
	// Resolve fetches and parses a fresh configuration.
	Resolve(ctx context.Context) (*Config, error)
}

// ResolverOptions tunes resolver construction.
type ResolverOptions struct {
	// Insecure disables TLS certificate validation for HTTP sources.
	Insecure bool
	// PollInterval is the delay between successful polls of a repeatable
	// source. Zero selects the default of 30 seconds.
	PollInterval time.Duration
}

// NewResolver builds a resolver for the given location: "http(s)://..." is
// fetched remotely, "file:<path>" and bare paths are read from disk.
func NewResolver(location string, opts ResolverOptions) (Resolver, error) {
	if location == "" {
		return nil, fmt.Errorf("empty config location")
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return newHTTPResolver(location, opts), nil
	}
	path := strings.TrimPrefix(location, "file:")
	return &fileResolver{path: path}, nil
}

// fileResolver reads a static config file. It is neither repeatable nor
// failable: the file is read once and a broken file is fatal.
type fileResolver struct {
	path string
}

func (r *fileResolver) Location() string { return r.path }
func (r *fileResolver) Repeatable() bool { return false }
func (r *fileResolver) Failable() bool   { return false }

func (r *fileResolver) Sleep(context.Context, bool) {}

func (r *fileResolver) Resolve(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", r.path, err)
	}
	return Load(data)
}

const defaultPollInterval = 30 * time.Second

// httpResolver polls a remote config endpoint. Fetch errors are transient:
// the supervisor logs them and retries with exponential backoff.
type httpResolver struct {
	url          string
	client       *http.Client
	pollInterval time.Duration
	backoff      *backoff.ExponentialBackOff
}

func newHTTPResolver(url string, opts ResolverOptions) *httpResolver {
	transport := cleanhttp.DefaultPooledTransport()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	pollInterval := opts.PollInterval
	if pollInterval == 0 {
		pollInterval = defaultPollInterval
	}
	b := backoff.NewExponentialBackOff()
	// Keep backing off for as long as the source stays broken.
	b.MaxElapsedTime = 0
	return &httpResolver{
		url:          url,
		client:       &http.Client{Transport: transport, Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		backoff:      b,
	}
}

func (r *httpResolver) Location() string { return r.url }
func (r *httpResolver) Repeatable() bool { return true }
func (r *httpResolver) Failable() bool   { return true }

func (r *httpResolver) Sleep(ctx context.Context, succeeded bool) {
	d := r.pollInterval
	if succeeded {
		r.backoff.Reset()
	} else {
		d = r.backoff.NextBackOff()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (r *httpResolver) Resolve(ctx context.Context) (*Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching config: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading config response: %w", err)
	}
	return Load(data)
}
