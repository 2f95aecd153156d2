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

// Command goagent runs the metrics-collection agent: scheduled collectors
// feeding a relabeling pipeline into an in-memory store exposed in
// OpenMetrics text format.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/gufolabs/goagent/pkg/agent"
	agentcollectors "github.com/gufolabs/goagent/pkg/collectors"
	"github.com/gufolabs/goagent/pkg/config"
	"github.com/gufolabs/goagent/pkg/sender"
)

func main() {
	a := kingpin.New("goagent", "The metrics collection agent")
	a.HelpFlag.Short('h')

	var (
		configLocation = a.Flag("config", "Config source: file path, file:<path> or http(s) URL.").
				Envar("GA_CONFIG").String()
		hostname = a.Flag("hostname", "Override the auto-detected hostname.").
				Envar("GA_HOSTNAME").String()
		insecure = a.Flag("insecure", "Disable TLS certificate validation when fetching config.").
				Envar("GA_INSECURE").Bool()
		dumpMetrics = a.Flag("dump-metrics", "Write the whole store to stdout after every update.").
				Envar("GA_DUMP_METRICS").Bool()
		listCollectors = a.Flag("list-collectors", "Print registered collector names and exit.").Bool()
		configDiscovery = a.Flag("config-discovery", "Generate a config by probing available collectors and exit.").Bool()
		configDiscoveryOpts = a.Flag("config-discovery-opts", "Comma-separated discovery options; prefix an item with '-' to disable that collector.").String()
		quiet   = a.Flag("quiet", "Log warnings and errors only.").Short('q').Bool()
		verbose = a.Flag("verbose", "Increase log verbosity.").Short('v').Counter()
	)

	if _, err := a.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error parsing commandline arguments:", err)
		a.Usage(os.Args[1:])
		os.Exit(2)
	}

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	switch {
	case *quiet:
		logger = level.NewFilter(logger, level.AllowWarn())
	case *verbose > 0:
		logger = level.NewFilter(logger, level.AllowDebug())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	if *listCollectors {
		for _, name := range agentcollectors.Names() {
			fmt.Println(name)
		}
		return
	}
	if *configDiscovery {
		var opts []string
		if *configDiscoveryOpts != "" {
			opts = strings.Split(*configDiscoveryOpts, ",")
		}
		out, err := yaml.Marshal(agentcollectors.DiscoverConfig(opts))
		if err != nil {
			_ = level.Error(logger).Log("msg", "Marshalling discovered config failed", "err", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	if *configLocation == "" {
		_ = level.Error(logger).Log("msg", "No config source given, use --config or GA_CONFIG")
		os.Exit(1)
	}
	resolver, err := config.NewResolver(*configLocation, config.ResolverOptions{Insecure: *insecure})
	if err != nil {
		_ = level.Error(logger).Log("msg", "Setting up config resolver failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	snd := sender.New(log.With(logger, "component", "sender"), reg, sender.Options{
		DumpMetrics: *dumpMetrics,
	})
	supervisor := agent.New(log.With(logger, "component", "supervisor"), snd, reg, agent.Options{
		Hostname: *hostname,
	})

	var g run.Group
	{
		// Termination handler.
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(
			func() error {
				select {
				case <-term:
					_ = level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
				case <-cancel:
				}
				return nil
			},
			func(error) {
				close(cancel)
			},
		)
	}
	{
		// Supervisor, owning the sender and all collector tasks.
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(
			func() error {
				return supervisor.Run(ctx, resolver)
			},
			func(error) {
				cancel()
			},
		)
	}

	if err := g.Run(); err != nil {
		_ = level.Error(logger).Log("msg", "Running agent failed", "err", err)
		os.Exit(1)
	}
}
