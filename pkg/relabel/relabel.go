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

// Package relabel implements the rule-based label transformation applied to
// samples before they enter the metrics store. Rules operate on the active
// label set: a mutable name->value map merged from agent, collector and
// measure scopes plus the virtual __name__ label.
package relabel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/model"

	agentmodel "github.com/gufolabs/goagent/pkg/model"
)

// Action is the operation a single rule performs.
type Action string

const (
	// Replace writes the evaluation result into the target label.
	Replace Action = "replace"
	// Keep passes the sample only if the evaluation matches.
	Keep Action = "keep"
	// Drop discards the sample if the evaluation matches.
	Drop Action = "drop"
	// DropIfEqual discards the sample if all source labels carry the same value.
	DropIfEqual Action = "drop_if_equal"
	// LabelKeep retains only labels whose name matches the regex.
	LabelKeep Action = "labelkeep"
	// LabelDrop removes labels whose name matches the regex.
	LabelDrop Action = "labeldrop"
	// LabelMap renames labels whose name matches the regex.
	LabelMap Action = "labelmap"
	// Dump logs the current active set. Diagnostic aid, never alters labels.
	Dump Action = "dump"
)

const defaultSeparator = ";"

// Config is the YAML schema of a single relabeling rule.
type Config struct {
	SourceLabels []string `yaml:"source_labels,omitempty"`
	Separator    string   `yaml:"separator,omitempty"`
	Regex        Regexp   `yaml:"regex,omitempty"`
	Replacement  *string  `yaml:"replacement,omitempty"`
	TargetLabel  string   `yaml:"target_label,omitempty"`
	Action       Action   `yaml:"action,omitempty"`
}

// Rule is a validated, executable relabeling rule.
type Rule struct {
	action       Action
	sourceLabels []string
	separator    string
	regex        Regexp
	replacement  *string
	targetLabel  string
}

// NewRule validates cfg and compiles it into an executable rule.
func NewRule(cfg Config) (*Rule, error) {
	r := &Rule{
		action:       cfg.Action,
		sourceLabels: cfg.SourceLabels,
		separator:    cfg.Separator,
		regex:        cfg.Regex,
		targetLabel:  cfg.TargetLabel,
	}
	if r.action == "" {
		r.action = Replace
	}
	if r.separator == "" {
		r.separator = defaultSeparator
	}
	if cfg.Replacement != nil {
		repl := normalizeReplacement(*cfg.Replacement)
		r.replacement = &repl
	}
	switch r.action {
	case Replace:
		if r.targetLabel == "" {
			return nil, fmt.Errorf("relabel action %q requires target_label", r.action)
		}
		if !model.LabelName(r.targetLabel).IsValidLegacy() {
			return nil, fmt.Errorf("invalid target_label %q", r.targetLabel)
		}
	case Keep, Drop:
		if len(r.sourceLabels) == 0 {
			return nil, fmt.Errorf("relabel action %q requires source_labels", r.action)
		}
	case DropIfEqual:
		if len(r.sourceLabels) < 2 {
			return nil, fmt.Errorf("relabel action %q requires at least two source_labels", r.action)
		}
	case LabelKeep, LabelDrop:
		if !r.regex.IsSet() {
			return nil, fmt.Errorf("relabel action %q requires regex", r.action)
		}
	case LabelMap:
		if !r.regex.IsSet() || r.replacement == nil {
			return nil, fmt.Errorf("relabel action %q requires regex and replacement", r.action)
		}
	case Dump:
	default:
		return nil, fmt.Errorf("unknown relabel action %q", r.action)
	}
	return r, nil
}

// eval computes the source expansion used by the replace, keep and drop
// actions. It reports whether the rule matched.
func (r *Rule) eval(active map[string]string) (string, bool) {
	if len(r.sourceLabels) == 0 {
		if r.replacement != nil {
			return *r.replacement, true
		}
		return "", false
	}
	values := make([]string, 0, len(r.sourceLabels))
	for _, name := range r.sourceLabels {
		v, ok := active[name]
		if !ok {
			return "", false
		}
		values = append(values, v)
	}
	joined := strings.Join(values, r.separator)

	if r.regex.IsSet() {
		idx := r.regex.FindStringSubmatchIndex(joined)
		if idx == nil {
			return "", false
		}
		if r.replacement != nil {
			return string(r.regex.ExpandString(nil, *r.replacement, joined, idx)), true
		}
		return joined, true
	}
	if r.replacement != nil {
		// Literal substitution of the whole-match tokens with the joined value.
		return strings.NewReplacer("${0}", joined, "${1}", joined).Replace(*r.replacement), true
	}
	return joined, true
}

// apply executes the rule against the active set, mutating it in place.
// It reports whether the sample should be kept.
func (r *Rule) apply(logger log.Logger, active map[string]string) (bool, error) {
	switch r.action {
	case Replace:
		if res, ok := r.eval(active); ok {
			active[r.targetLabel] = res
		}
	case Keep:
		if _, ok := r.eval(active); !ok {
			return false, nil
		}
	case Drop:
		if _, ok := r.eval(active); ok {
			return false, nil
		}
	case DropIfEqual:
		if r.allSourcesEqual(active) {
			return false, nil
		}
	case LabelKeep:
		for _, name := range labelNames(active) {
			if !agentmodel.IsVirtualLabel(name) && !r.regex.MatchString(name) {
				delete(active, name)
			}
		}
	case LabelDrop:
		for _, name := range labelNames(active) {
			if !agentmodel.IsVirtualLabel(name) && r.regex.MatchString(name) {
				delete(active, name)
			}
		}
	case LabelMap:
		for _, name := range labelNames(active) {
			idx := r.regex.FindStringSubmatchIndex(name)
			if idx == nil {
				continue
			}
			renamed := string(r.regex.ExpandString(nil, *r.replacement, name, idx))
			if !model.LabelName(renamed).IsValidLegacy() {
				return false, fmt.Errorf("labelmap of %q produced invalid label name %q", name, renamed)
			}
			active[renamed] = active[name]
			// Virtual labels are copied, not moved.
			if !agentmodel.IsVirtualLabel(name) && renamed != name {
				delete(active, name)
			}
		}
	case Dump:
		for _, name := range labelNames(active) {
			_ = level.Info(logger).Log("msg", "relabel dump", "label", name, "value", active[name])
		}
	}
	return true, nil
}

func (r *Rule) allSourcesEqual(active map[string]string) bool {
	first, ok := active[r.sourceLabels[0]]
	if !ok {
		return false
	}
	for _, name := range r.sourceLabels[1:] {
		v, ok := active[name]
		if !ok || v != first {
			return false
		}
	}
	return true
}

// labelNames returns the keys of the active set in sorted order so rule
// execution is deterministic.
func labelNames(active map[string]string) []string {
	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalizeReplacement rewrites $N capture references to the ${N} form so
// expansion needs no per-sample preprocessing.
func normalizeReplacement(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 >= len(s) || s[i+1] < '0' || s[i+1] > '9' {
			b.WriteByte(s[i])
			continue
		}
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		b.WriteString("${")
		b.WriteString(s[i+1 : j])
		b.WriteString("}")
		i = j - 1
	}
	return b.String()
}

// Ruleset is an ordered list of rules applied to a single sample.
type Ruleset struct {
	logger log.Logger
	rules  []*Rule
}

// NewRuleset compiles the rule configurations in order.
func NewRuleset(logger log.Logger, cfgs []Config) (*Ruleset, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	rs := &Ruleset{logger: logger}
	for i, cfg := range cfgs {
		r, err := NewRule(cfg)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rs.rules = append(rs.rules, r)
	}
	return rs, nil
}

// Len returns the number of rules in the set.
func (rs *Ruleset) Len() int { return len(rs.rules) }

// Process runs all rules in order against the active set, mutating it in
// place. It reports whether the sample should be kept. The first rule that
// decides to drop terminates evaluation.
func (rs *Ruleset) Process(active map[string]string) (bool, error) {
	for _, r := range rs.rules {
		keep, err := r.apply(rs.logger, active)
		if err != nil {
			return false, err
		}
		if !keep {
			return false, nil
		}
	}
	return true, nil
}
