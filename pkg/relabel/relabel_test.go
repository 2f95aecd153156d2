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

package relabel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func strptr(s string) *string { return &s }

func TestRulesetProcess(t *testing.T) {
	cases := []struct {
		doc      string
		cfgs     []Config
		in       map[string]string
		want     map[string]string
		wantDrop bool
	}{
		{
			doc: "replace copies source into target",
			cfgs: []Config{{
				Action:       Replace,
				SourceLabels: []string{"host"},
				TargetLabel:  "node",
				Replacement:  strptr("$0"),
			}},
			in:   map[string]string{"host": "h1"},
			want: map[string]string{"host": "h1", "node": "h1"},
		},
		{
			doc: "replace with non-matching regex changes nothing",
			cfgs: []Config{{
				Action:       Replace,
				SourceLabels: []string{"host"},
				Regex:        MustNewRegexp("prod-.*"),
				TargetLabel:  "env",
				Replacement:  strptr("production"),
			}},
			in:   map[string]string{"host": "h1"},
			want: map[string]string{"host": "h1"},
		},
		{
			doc: "replace with capture groups",
			cfgs: []Config{{
				Action:       Replace,
				SourceLabels: []string{"instance"},
				Regex:        MustNewRegexp("([^:]+):(\\d+)"),
				TargetLabel:  "port",
				Replacement:  strptr("$2"),
			}},
			in:   map[string]string{"instance": "db1:5432"},
			want: map[string]string{"instance": "db1:5432", "port": "5432"},
		},
		{
			doc: "replace without source labels writes replacement literally",
			cfgs: []Config{{
				Action:      Replace,
				TargetLabel: "dc",
				Replacement: strptr("west"),
			}},
			in:   map[string]string{"host": "h1"},
			want: map[string]string{"host": "h1", "dc": "west"},
		},
		{
			doc: "replace with missing source label changes nothing",
			cfgs: []Config{{
				Action:       Replace,
				SourceLabels: []string{"missing"},
				TargetLabel:  "out",
				Replacement:  strptr("x"),
			}},
			in:   map[string]string{"host": "h1"},
			want: map[string]string{"host": "h1"},
		},
		{
			doc: "drop on match",
			cfgs: []Config{{
				Action:       Drop,
				SourceLabels: []string{"env"},
				Regex:        MustNewRegexp("prod"),
			}},
			in:       map[string]string{"env": "prod"},
			wantDrop: true,
		},
		{
			doc: "drop without match keeps sample unchanged",
			cfgs: []Config{{
				Action:       Drop,
				SourceLabels: []string{"env"},
				Regex:        MustNewRegexp("prod"),
			}},
			in:   map[string]string{"env": "dev"},
			want: map[string]string{"env": "dev"},
		},
		{
			doc: "keep without match drops",
			cfgs: []Config{{
				Action:       Keep,
				SourceLabels: []string{"env"},
				Regex:        MustNewRegexp("prod"),
			}},
			in:       map[string]string{"env": "dev"},
			wantDrop: true,
		},
		{
			doc: "keep with missing source label drops",
			cfgs: []Config{{
				Action:       Keep,
				SourceLabels: []string{"env"},
				Regex:        MustNewRegexp(".*"),
			}},
			in:       map[string]string{"host": "h1"},
			wantDrop: true,
		},
		{
			doc: "drop_if_equal drops when all sources agree",
			cfgs: []Config{{
				Action:       DropIfEqual,
				SourceLabels: []string{"a", "b"},
			}},
			in:       map[string]string{"a": "x", "b": "x"},
			wantDrop: true,
		},
		{
			doc: "drop_if_equal keeps when values differ",
			cfgs: []Config{{
				Action:       DropIfEqual,
				SourceLabels: []string{"a", "b"},
			}},
			in:   map[string]string{"a": "x", "b": "y"},
			want: map[string]string{"a": "x", "b": "y"},
		},
		{
			doc: "labeldrop removes matching keys but never virtual ones",
			cfgs: []Config{{
				Action: LabelDrop,
				Regex:  MustNewRegexp(".*"),
			}},
			in:   map[string]string{"__name__": "x", "host": "h1"},
			want: map[string]string{"__name__": "x"},
		},
		{
			doc: "labelkeep retains matching and virtual keys",
			cfgs: []Config{{
				Action: LabelKeep,
				Regex:  MustNewRegexp("host"),
			}},
			in:   map[string]string{"__name__": "x", "host": "h1", "cpu": "0"},
			want: map[string]string{"__name__": "x", "host": "h1"},
		},
		{
			doc: "labelmap renames matching keys",
			cfgs: []Config{{
				Action:      LabelMap,
				Regex:       MustNewRegexp("__meta_(.+)"),
				Replacement: strptr("$1"),
			}},
			in:   map[string]string{"__meta_region": "eu", "host": "h1"},
			want: map[string]string{"__meta_region": "eu", "region": "eu", "host": "h1"},
		},
		{
			doc: "labelmap moves non-virtual keys",
			cfgs: []Config{{
				Action:      LabelMap,
				Regex:       MustNewRegexp("old_(.+)"),
				Replacement: strptr("new_$1"),
			}},
			in:   map[string]string{"old_zone": "a", "host": "h1"},
			want: map[string]string{"new_zone": "a", "host": "h1"},
		},
		{
			doc: "rules run in order, first drop wins",
			cfgs: []Config{
				{
					Action:       Replace,
					SourceLabels: []string{"host"},
					TargetLabel:  "env",
					Replacement:  strptr("prod"),
				},
				{
					Action:       Drop,
					SourceLabels: []string{"env"},
					Regex:        MustNewRegexp("prod"),
				},
			},
			in:       map[string]string{"host": "h1"},
			wantDrop: true,
		},
		{
			doc:  "dump leaves the set untouched",
			cfgs: []Config{{Action: Dump}},
			in:   map[string]string{"host": "h1"},
			want: map[string]string{"host": "h1"},
		},
	}
	for _, c := range cases {
		t.Run(c.doc, func(t *testing.T) {
			rs, err := NewRuleset(nil, c.cfgs)
			require.NoError(t, err)

			active := map[string]string{}
			for k, v := range c.in {
				active[k] = v
			}
			keep, err := rs.Process(active)
			require.NoError(t, err)
			require.Equal(t, !c.wantDrop, keep)
			if c.wantDrop {
				return
			}
			if diff := cmp.Diff(c.want, active); diff != "" {
				t.Errorf("unexpected active set (-want +got): %s", diff)
			}
		})
	}
}

func TestNewRuleValidation(t *testing.T) {
	cases := []struct {
		doc     string
		cfg     Config
		wantErr bool
	}{
		{
			doc:     "replace requires target_label",
			cfg:     Config{Action: Replace, SourceLabels: []string{"a"}},
			wantErr: true,
		},
		{
			doc:     "keep requires source_labels",
			cfg:     Config{Action: Keep, Regex: MustNewRegexp(".*")},
			wantErr: true,
		},
		{
			doc:     "drop requires source_labels",
			cfg:     Config{Action: Drop, Regex: MustNewRegexp(".*")},
			wantErr: true,
		},
		{
			doc:     "drop_if_equal requires two source_labels",
			cfg:     Config{Action: DropIfEqual, SourceLabels: []string{"a"}},
			wantErr: true,
		},
		{
			doc:     "labelmap requires regex and replacement",
			cfg:     Config{Action: LabelMap, Regex: MustNewRegexp(".*")},
			wantErr: true,
		},
		{
			doc:     "labeldrop requires regex",
			cfg:     Config{Action: LabelDrop},
			wantErr: true,
		},
		{
			doc:     "unknown action",
			cfg:     Config{Action: Action("explode")},
			wantErr: true,
		},
		{
			doc: "valid replace",
			cfg: Config{Action: Replace, SourceLabels: []string{"a"}, TargetLabel: "b"},
		},
		{
			doc: "dump needs nothing",
			cfg: Config{Action: Dump},
		},
	}
	for _, c := range cases {
		t.Run(c.doc, func(t *testing.T) {
			_, err := NewRule(c.cfg)
			if c.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNormalizeReplacement(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"$1", "${1}"},
		{"${1}", "${1}"},
		{"$0-$12", "${0}-${12}"},
		{"prefix$1suffix", "prefix${1}suffix"},
		{"no refs", "no refs"},
		{"trailing $", "trailing $"},
		{"$name", "$name"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, normalizeReplacement(c.in), "input %q", c.in)
	}
}

func TestConfigYAML(t *testing.T) {
	doc := `
action: replace
source_labels: [host, dc]
separator: "|"
regex: "(.+)\\|(.+)"
target_label: node
replacement: "$1-$2"
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	require.Equal(t, Replace, cfg.Action)
	require.Equal(t, []string{"host", "dc"}, cfg.SourceLabels)
	require.Equal(t, "|", cfg.Separator)
	require.True(t, cfg.Regex.IsSet())
	require.Equal(t, "(.+)\\|(.+)", cfg.Regex.String())
	require.NotNil(t, cfg.Replacement)

	rs, err := NewRuleset(nil, []Config{cfg})
	require.NoError(t, err)
	active := map[string]string{"host": "h1", "dc": "east"}
	keep, err := rs.Process(active)
	require.NoError(t, err)
	require.True(t, keep)
	require.Equal(t, "h1-east", active["node"])
}

func TestInvalidRegexYAML(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte(`regex: "(unclosed"`), &cfg)
	require.Error(t, err)
}
