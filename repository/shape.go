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

package repository

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tomoncle/docstore/database"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrUnknownField is wrapped by decode errors of strict shapes.
var ErrUnknownField = errors.New("unknown field")

// Shape describes how records of type T are stored: the canonical
// collection name and the decode policy.
type Shape[T any] struct {
	collection string
	strict     bool
	known      map[string]struct{} // nil when every field is accepted
}

type shapeConfig struct {
	strict bool
}

// ShapeOption configures a Shape.
type ShapeOption func(*shapeConfig)

// WithStrictFields makes decoding fail when a stored document carries a
// top-level field that T does not declare. _id is always accepted. Types
// without a fixed field set (maps, bson.D, inline maps) accept everything.
func WithStrictFields() ShapeOption {
	return func(c *shapeConfig) { c.strict = true }
}

// NewShape describes records of type T stored in collection. Unknown fields
// are ignored unless WithStrictFields is given.
func NewShape[T any](collection string, opts ...ShapeOption) *Shape[T] {
	cfg := shapeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Shape[T]{collection: collection, strict: cfg.strict}
	if cfg.strict {
		s.known = knownFields(reflect.TypeOf((*T)(nil)).Elem())
	}
	return s
}

func (s *Shape[T]) Collection() string { return s.collection }

func (s *Shape[T]) Strict() bool { return s.strict }

// Encode renders rec as a BSON document.
func (s *Shape[T]) Encode(rec T) (bson.Raw, error) {
	raw, err := bson.Marshal(rec)
	if err != nil {
		return nil, database.WriteError("encode "+s.collection, err)
	}
	return raw, nil
}

// Decode reads a stored document into a T.
func (s *Shape[T]) Decode(raw bson.Raw) (T, error) {
	var out T
	if s.strict && s.known != nil {
		elems, err := raw.Elements()
		if err != nil {
			return out, database.BackendError("decode "+s.collection, err)
		}
		for _, e := range elems {
			key := e.Key()
			if key == "_id" {
				continue
			}
			if _, ok := s.known[key]; !ok {
				return out, database.BackendError("decode "+s.collection,
					fmt.Errorf("%w %q for %T", ErrUnknownField, key, out))
			}
		}
	}
	if err := bson.Unmarshal(raw, &out); err != nil {
		return out, database.BackendError("decode "+s.collection, err)
	}
	return out, nil
}

// knownFields lists the BSON keys of a struct type, following the codec's
// naming rules. It returns nil for types that accept arbitrary keys.
func knownFields(t reflect.Type) map[string]struct{} {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	known := map[string]struct{}{}
	if !collectFields(t, known) {
		return nil
	}
	return known
}

func collectFields(t reflect.Type, known map[string]struct{}) bool {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, hasTag := f.Tag.Lookup("bson")
		if tag == "-" {
			continue
		}
		name, flags, _ := strings.Cut(tag, ",")
		inline := strings.Contains(","+flags+",", ",inline,")
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if inline {
			switch ft.Kind() {
			case reflect.Struct:
				if !collectFields(ft, known) {
					return false
				}
				continue
			case reflect.Map:
				return false
			}
		}
		if !hasTag || name == "" {
			name = strings.ToLower(f.Name)
		}
		known[name] = struct{}{}
	}
	return true
}
