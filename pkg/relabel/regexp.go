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
	"regexp"

	"gopkg.in/yaml.v3"
)

// Regexp wraps a regular expression so it can be used directly in YAML rule
// configurations. Expressions are anchored to match the full input.
type Regexp struct {
	*regexp.Regexp
	original string
}

// NewRegexp compiles expr with full anchoring.
func NewRegexp(expr string) (Regexp, error) {
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return Regexp{}, err
	}
	return Regexp{Regexp: re, original: expr}, nil
}

// MustNewRegexp is like NewRegexp but panics on compile errors. For use in
// tests and static defaults.
func MustNewRegexp(expr string) Regexp {
	re, err := NewRegexp(expr)
	if err != nil {
		panic(err)
	}
	return re
}

// IsSet reports whether a pattern was configured.
func (re Regexp) IsSet() bool { return re.Regexp != nil }

// String returns the original, unanchored expression.
func (re Regexp) String() string { return re.original }

// UnmarshalYAML implements yaml.Unmarshaler.
func (re *Regexp) UnmarshalYAML(value *yaml.Node) error {
	var expr string
	if err := value.Decode(&expr); err != nil {
		return err
	}
	r, err := NewRegexp(expr)
	if err != nil {
		return err
	}
	*re = r
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (re Regexp) MarshalYAML() (any, error) {
	if !re.IsSet() {
		return nil, nil
	}
	return re.original, nil
}
