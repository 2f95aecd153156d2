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

// Package sender implements the single-writer aggregation path of the agent.
// Collector tasks submit batches on a bounded command channel; the sender is
// the only goroutine mutating the metrics store.
package sender

import (
	"context"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gufolabs/goagent/pkg/store"
)

var (
	batchesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goagent_sender_batches_received_total",
		Help: "Number of collector batches received by the sender.",
	})
	samplesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goagent_sender_samples_written_total",
		Help: "Number of samples written to the metrics store.",
	})
	samplesDroppedRelabel = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goagent_sender_samples_dropped_relabel_total",
		Help: "Number of samples dropped by relabeling rules.",
	})
	samplesDroppedConflict = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goagent_sender_samples_dropped_conflict_total",
		Help: "Number of samples dropped due to metric type conflicts.",
	})
	relabelErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goagent_sender_relabel_errors_total",
		Help: "Number of samples skipped because a relabel rule failed to apply.",
	})
)

// Default capacity of the command channel. Producers block when it is full,
// which throttles collectors under overload.
const defaultQueueCapacity = 10000

// command is one unit of work for the sender loop. Exactly one field is set.
type command struct {
	batch       *store.Batch
	agentLabels map[string]string
}

// Options configures a Sender.
type Options struct {
	// DumpMetrics makes the sender write the whole store to stdout after
	// every processed batch. Best-effort; write errors are logged only.
	DumpMetrics bool
	// QueueCapacity overrides the command channel capacity. Zero selects the
	// default of 10000.
	QueueCapacity int
}

// Sender owns the metrics store and processes commands in channel-receive
// order. Batches from a single collector are therefore applied in submission
// order; batches from different collectors have no relative ordering.
type Sender struct {
	logger log.Logger
	opts   Options
	store  *store.Store
	cmds   chan command
}

// New returns a sender with an empty store. Self-instrumentation metrics are
// registered with reg when it is non-nil.
func New(logger log.Logger, reg prometheus.Registerer, opts Options) *Sender {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg != nil {
		reg.MustRegister(
			batchesReceived,
			samplesWritten,
			samplesDroppedRelabel,
			samplesDroppedConflict,
			relabelErrors,
		)
	}
	capacity := opts.QueueCapacity
	if capacity == 0 {
		capacity = defaultQueueCapacity
	}
	return &Sender{
		logger: logger,
		opts:   opts,
		store:  store.New(log.With(logger, "component", "store")),
		cmds:   make(chan command, capacity),
	}
}

// Store returns the metrics store for read access by the exposition handler.
func (s *Sender) Store() *store.Store { return s.store }

// Send submits a batch to the sender. It blocks while the command channel is
// full and returns early only when ctx is cancelled.
func (s *Sender) Send(ctx context.Context, b *store.Batch) error {
	select {
	case s.cmds <- command{batch: b}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAgentLabels submits a replacement of the agent-scope label set. It is
// ordered with respect to Data batches: labels set before a batch is
// submitted apply to it, later updates do not transform past samples.
func (s *Sender) SetAgentLabels(ctx context.Context, ls map[string]string) error {
	if ls == nil {
		ls = map[string]string{}
	}
	select {
	case s.cmds <- command{agentLabels: ls}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes commands until ctx is cancelled. The sender survives
// reconfiguration; it is only stopped on process shutdown.
func (s *Sender) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.cmds:
			s.process(cmd)
		}
	}
}

func (s *Sender) process(cmd command) {
	if cmd.agentLabels != nil {
		s.store.SetAgentLabels(cmd.agentLabels)
		return
	}
	batchesReceived.Inc()
	st := s.store.ApplyData(cmd.batch)
	samplesWritten.Add(float64(st.Written))
	samplesDroppedRelabel.Add(float64(st.DroppedByRules))
	samplesDroppedConflict.Add(float64(st.DroppedConflict))
	relabelErrors.Add(float64(st.RuleErrors))

	if s.opts.DumpMetrics {
		if err := s.store.WriteOpenMetrics(os.Stdout); err != nil {
			_ = level.Warn(s.logger).Log("msg", "dumping metrics to stdout failed", "err", err)
		}
	}
}
