/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Option is one driver query parameter.
type Option struct {
	Key   string
	Value string
}

// Options is an ordered string mapping. The order is the declaration order of
// the source document and is kept when the options are rendered into a
// connection string.
type Options []Option

// NewOptions builds Options from alternating key/value arguments.
func NewOptions(kv ...string) Options {
	var o Options
	for i := 0; i+1 < len(kv); i += 2 {
		o = o.Set(kv[i], kv[i+1])
	}
	return o
}

// Get returns the value stored under key.
func (o Options) Get(key string) (string, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}
	return "", false
}

// Set replaces the value of key in place or appends it.
func (o Options) Set(key, value string) Options {
	for i, opt := range o {
		if opt.Key == key {
			out := append(Options(nil), o...)
			out[i].Value = value
			return out
		}
	}
	return append(append(Options(nil), o...), Option{Key: key, Value: value})
}

// Encode renders "k1=v1&k2=v2" in order.
func (o Options) Encode() string {
	parts := make([]string, len(o))
	for i, opt := range o {
		parts[i] = opt.Key + "=" + opt.Value
	}
	return strings.Join(parts, "&")
}

// optionValue is a scalar option value in its source spelling: JSON numbers
// and booleans keep their literal text.
type optionValue string

func (v *optionValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("options: empty value")
	}
	switch data[0] {
	case '{', '[':
		return fmt.Errorf("options: value %s must be a scalar", data)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = optionValue(s)
	case 'n':
		*v = ""
	default:
		*v = optionValue(data)
	}
	return nil
}

func (v *optionValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("options: value must be a scalar, got %s at line %d", kindName(node.Kind), node.Line)
	}
	*v = optionValue(node.Value)
	return nil
}

func fromOrderedMap(om *orderedmap.OrderedMap[string, optionValue]) Options {
	out := make(Options, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Option{Key: pair.Key, Value: string(pair.Value)})
	}
	return out
}

func (o Options) orderedMap() *orderedmap.OrderedMap[string, string] {
	om := orderedmap.New[string, string](orderedmap.WithCapacity[string, string](len(o)))
	for _, opt := range o {
		om.Set(opt.Key, opt.Value)
	}
	return om
}

func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*o = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("options: expected a mapping, got %s at line %d", kindName(node.Kind), node.Line)
	}
	om := orderedmap.New[string, optionValue]()
	if err := om.UnmarshalYAML(node); err != nil {
		return err
	}
	*o = fromOrderedMap(om)
	return nil
}

func (o Options) MarshalYAML() (interface{}, error) {
	return o.orderedMap().MarshalYAML()
}

func (o *Options) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*o = nil
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("options: expected a JSON object")
	}
	om := orderedmap.New[string, optionValue]()
	if err := om.UnmarshalJSON(trimmed); err != nil {
		return err
	}
	*o = fromOrderedMap(om)
	return nil
}

func (o Options) MarshalJSON() ([]byte, error) {
	return o.orderedMap().MarshalJSON()
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
