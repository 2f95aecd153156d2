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
	"context"
	"math/rand"
	"runtime/debug"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/gufolabs/goagent/pkg/collectors"
	"github.com/gufolabs/goagent/pkg/relabel"
	"github.com/gufolabs/goagent/pkg/sender"
	"github.com/gufolabs/goagent/pkg/store"
)

// runner is one scheduled collector task. It lives until cancelled by the
// supervisor; a consistently failing collector keeps being retried every
// interval and is never stopped automatically.
type runner struct {
	generation uint64
	id         string
	hash       uint64
	interval   time.Duration
	labels     map[string]string
	rules      *relabel.Ruleset
	coll       collectors.Collector
	snd        *sender.Sender
	logger     log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the task, aborting any in-flight collect, and waits for it to
// release its resources.
func (r *runner) stop() {
	r.cancel()
	<-r.done
}

func (r *runner) run(ctx context.Context) {
	defer close(r.done)

	if d := startOffset(r.coll, r.interval); d > 0 {
		_ = level.Debug(r.logger).Log("msg", "delaying first collection", "offset", d)
		if !sleepContext(ctx, d) {
			return
		}
	}
	for {
		r.cycle(ctx)
		if !sleepContext(ctx, r.interval) {
			return
		}
	}
}

// cycle performs one collection and forwards the batch to the sender. A
// panicking collector is reported and the next cycle attempted normally.
func (r *runner) cycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			_ = level.Error(r.logger).Log("msg", "collector panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	ts := time.Now().Unix()
	measures, err := r.coll.Collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		_ = level.Error(r.logger).Log("msg", "collection failed", "err", err)
		return
	}
	batch := &store.Batch{
		Collector: r.id,
		Labels:    r.labels,
		Rules:     r.rules,
		Measures:  measures,
		Timestamp: ts,
	}
	if err := r.snd.Send(ctx, batch); err != nil {
		_ = level.Warn(r.logger).Log("msg", "submitting batch failed", "err", err)
	}
}

// startOffset returns the randomized initial delay in [0, interval) used to
// desynchronize collector load spikes. Collectors that suppress the offset,
// e.g. ones that must bind a listening port immediately, start at once.
func startOffset(coll collectors.Collector, interval time.Duration) time.Duration {
	if s, ok := coll.(collectors.OffsetSuppressor); ok && s.SuppressStartOffset() {
		return 0
	}
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(interval)))
}

// sleepContext sleeps for d and reports false when ctx was cancelled first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
