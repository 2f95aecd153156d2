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

// Package agent contains the supervisor driving the collector tasks and the
// sender from resolved configuration.
package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gufolabs/goagent/pkg/collectors"
	"github.com/gufolabs/goagent/pkg/config"
	"github.com/gufolabs/goagent/pkg/relabel"
	"github.com/gufolabs/goagent/pkg/sender"
)

// Options configures a Supervisor.
type Options struct {
	// Hostname overrides both the config host and auto-detection when set.
	Hostname string
}

// Supervisor reconciles the set of running collector tasks against resolved
// configuration and manages the sender lifecycle. The sender is started on
// the first apply and stopped only on process shutdown; collectors are
// spawned, restarted on config-hash change and stopped as the configuration
// evolves.
type Supervisor struct {
	logger   log.Logger
	snd      *sender.Sender
	gatherer prometheus.Gatherer
	opts     Options

	generation atomic.Uint64

	mtx           sync.Mutex
	running       map[string]*runner
	senderStarted bool
	senderErrc    chan error
}

// New returns a supervisor driving the given sender. gatherer, when non-nil,
// is served as agent self-telemetry on the exposition listener.
func New(logger log.Logger, snd *sender.Sender, gatherer prometheus.Gatherer, opts Options) *Supervisor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Supervisor{
		logger:     logger,
		snd:        snd,
		gatherer:   gatherer,
		opts:       opts,
		running:    map[string]*runner{},
		senderErrc: make(chan error, 2),
	}
}

// Run drives the configure loop: resolve, apply, sleep, repeat while the
// resolver is repeatable. It returns when ctx is cancelled, on a fatal
// resolve error of a non-failable source, or when the sender fails (e.g. the
// exposition listener cannot bind). All collector tasks are awaited on exit.
func (s *Supervisor) Run(ctx context.Context, res config.Resolver) error {
	defer s.stopAll()

	for {
		cfg, err := res.Resolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !res.Failable() {
				return fmt.Errorf("resolving config from %s: %w", res.Location(), err)
			}
			_ = level.Error(s.logger).Log("msg", "resolving config failed, retrying", "location", res.Location(), "err", err)
			res.Sleep(ctx, false)
			continue
		}
		if err := s.Apply(ctx, cfg); err != nil {
			return err
		}
		select {
		case err := <-s.senderErrc:
			return err
		default:
		}
		if !res.Repeatable() {
			break
		}
		res.Sleep(ctx, true)
		if ctx.Err() != nil {
			return nil
		}
	}

	// One-shot config source: keep collecting until shutdown.
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.senderErrc:
		return err
	}
}

// Apply reconciles the running state with cfg. Per-collector errors are
// logged and skipped; the rest of the configuration is still applied.
func (s *Supervisor) Apply(ctx context.Context, cfg *config.Config) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.ensureSender(ctx, cfg.Sender)
	if err := s.snd.SetAgentLabels(ctx, s.agentLabels(cfg)); err != nil {
		return err
	}

	desired := make(map[string]*config.CollectorConfig, len(cfg.Collectors))
	for i := range cfg.Collectors {
		cc := &cfg.Collectors[i]
		if cc.Disabled {
			continue
		}
		desired[cc.ID] = cc
	}

	for id, r := range s.running {
		if _, ok := desired[id]; !ok {
			_ = level.Info(s.logger).Log("msg", "stopping collector", "id", id)
			r.stop()
			delete(s.running, id)
		}
	}

	for id, cc := range desired {
		h := config.Hash(cc)
		if r, ok := s.running[id]; ok {
			if r.hash == h {
				continue
			}
			_ = level.Info(s.logger).Log("msg", "collector config changed, restarting", "id", id)
			r.stop()
			delete(s.running, id)
		}
		if err := s.spawn(ctx, cc, h); err != nil {
			_ = level.Error(s.logger).Log("msg", "starting collector failed", "id", id, "type", cc.Type, "err", err)
		}
	}
	return nil
}

// ensureSender starts the sender loop and the exposition server once, on the
// first apply. Callers hold s.mtx.
func (s *Supervisor) ensureSender(ctx context.Context, cfg config.SenderConfig) {
	if s.senderStarted {
		return
	}
	s.senderStarted = true

	go func() {
		if err := s.snd.Run(ctx); err != nil {
			s.senderErrc <- err
		}
	}()
	srvOpts := sender.ServerOptions{
		Listen:   cfg.Listen,
		Path:     cfg.Path,
		CertFile: cfg.CertPath,
		KeyFile:  cfg.KeyPath,
	}
	go func() {
		if err := s.snd.RunServer(ctx, srvOpts, s.gatherer); err != nil {
			s.senderErrc <- fmt.Errorf("exposition server: %w", err)
		}
	}()
}

func (s *Supervisor) spawn(ctx context.Context, cc *config.CollectorConfig, hash uint64) error {
	coll, err := collectors.New(cc.Type, cc.Payload)
	if err != nil {
		return err
	}
	var rules *relabel.Ruleset
	if len(cc.Relabel) > 0 {
		rules, err = relabel.NewRuleset(log.With(s.logger, "collector", cc.ID), cc.Relabel)
		if err != nil {
			return fmt.Errorf("compiling relabel rules: %w", err)
		}
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &runner{
		generation: s.generation.Add(1),
		id:         cc.ID,
		hash:       hash,
		interval:   cc.IntervalDuration(),
		labels:     cc.Labels,
		rules:      rules,
		coll:       coll,
		snd:        s.snd,
		logger:     log.With(s.logger, "collector", cc.ID, "type", cc.Type),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	_ = level.Info(s.logger).Log("msg", "starting collector", "id", cc.ID, "type", cc.Type, "interval", r.interval)
	go r.run(rctx)
	s.running[cc.ID] = r
	return nil
}

// agentLabels merges the configured agent labels with the host identity.
// Precedence for the host label: explicit agent label, then the --hostname
// override, then the config host, then OS auto-detection.
func (s *Supervisor) agentLabels(cfg *config.Config) map[string]string {
	ls := make(map[string]string, len(cfg.Agent.Labels)+1)
	for k, v := range cfg.Agent.Labels {
		ls[k] = v
	}
	if _, ok := ls["host"]; !ok {
		host := s.opts.Hostname
		if host == "" {
			host = cfg.Agent.Host
		}
		if host == "" {
			host, _ = os.Hostname()
		}
		if host != "" {
			ls["host"] = host
		}
	}
	return ls
}

func (s *Supervisor) stopAll() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for id, r := range s.running {
		r.stop()
		delete(s.running, id)
	}
}

// Generations returns the task generation per running collector ID. A
// restart is observable as a new generation for the same ID.
func (s *Supervisor) Generations() map[string]uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make(map[string]uint64, len(s.running))
	for id, r := range s.running {
		out[id] = r.generation
	}
	return out
}
