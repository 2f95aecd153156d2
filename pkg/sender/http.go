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

package sender

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gufolabs/goagent/pkg/store"
)

// ServerOptions configures the exposition HTTP server.
type ServerOptions struct {
	// Listen is the bind address, e.g. "0.0.0.0:3000".
	Listen string
	// Path is the exposition endpoint path, e.g. "/metrics".
	Path string
	// CertFile and KeyFile enable TLS termination when both are set.
	CertFile string
	KeyFile  string
}

// MetricsHandler serves the store in OpenMetrics text form.
func (s *Sender) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Only GET requests allowed.", http.StatusMethodNotAllowed)
			return
		}
		// Serialize into a buffer first so a failure can still produce a
		// clean 500 instead of a truncated body.
		var buf bytes.Buffer
		if err := s.store.WriteOpenMetrics(&buf); err != nil {
			_ = level.Error(s.logger).Log("msg", "serializing metrics failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", store.ContentType)
		if _, err := w.Write(buf.Bytes()); err != nil {
			_ = level.Warn(s.logger).Log("msg", "writing metrics response failed", "err", err)
		}
	})
}

// RunServer serves the exposition endpoint until ctx is cancelled. When
// gatherer is non-nil, the agent's own telemetry is additionally served at
// /debug/metrics.
func (s *Sender) RunServer(ctx context.Context, opts ServerOptions, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle(opts.Path, s.MetricsHandler())
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "goagent is Ready.\n")
	})
	if gatherer != nil {
		mux.Handle("/debug/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	server := &http.Server{Addr: opts.Listen, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		_ = level.Info(s.logger).Log("msg", "starting exposition server", "listen", opts.Listen, "path", opts.Path)
		if opts.CertFile != "" && opts.KeyFile != "" {
			errc <- server.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
			return
		}
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = level.Error(s.logger).Log("msg", "exposition server failed to shut down gracefully", "err", err)
		}
		return nil
	}
}
