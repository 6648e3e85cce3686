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

package types

import (
	"fmt"
	"strings"
)

// FilterOp identifies the operator of a filter node. Comparison operators use
// the MongoDB query operator names so they translate one to one.
type FilterOp string

const (
	OpAll    FilterOp = ""
	OpEq     FilterOp = "$eq"
	OpNe     FilterOp = "$ne"
	OpGt     FilterOp = "$gt"
	OpGte    FilterOp = "$gte"
	OpLt     FilterOp = "$lt"
	OpLte    FilterOp = "$lte"
	OpIn     FilterOp = "$in"
	OpNin    FilterOp = "$nin"
	OpExists FilterOp = "$exists"
	OpAnd    FilterOp = "$and"
	OpOr     FilterOp = "$or"
	OpNor    FilterOp = "$nor"
)

// Filter is a declarative predicate over the fields of a record. Field names
// are BSON field names; dotted paths address nested documents. The zero value
// matches every record.
type Filter struct {
	Op       FilterOp
	Field    string
	Value    interface{}
	Children []Filter
}

// All returns a filter matching every record.
func All() Filter { return Filter{} }

func Eq(field string, value interface{}) Filter  { return cmp(OpEq, field, value) }
func Ne(field string, value interface{}) Filter  { return cmp(OpNe, field, value) }
func Gt(field string, value interface{}) Filter  { return cmp(OpGt, field, value) }
func Gte(field string, value interface{}) Filter { return cmp(OpGte, field, value) }
func Lt(field string, value interface{}) Filter  { return cmp(OpLt, field, value) }
func Lte(field string, value interface{}) Filter { return cmp(OpLte, field, value) }

// In matches records whose field equals any of values.
func In(field string, values ...interface{}) Filter { return cmp(OpIn, field, values) }

// Nin matches records whose field equals none of values.
func Nin(field string, values ...interface{}) Filter { return cmp(OpNin, field, values) }

// Exists matches records that have (or lack) the field.
func Exists(field string, exists bool) Filter { return cmp(OpExists, field, exists) }

func And(filters ...Filter) Filter { return Filter{Op: OpAnd, Children: filters} }
func Or(filters ...Filter) Filter  { return Filter{Op: OpOr, Children: filters} }
func Nor(filters ...Filter) Filter { return Filter{Op: OpNor, Children: filters} }

func cmp(op FilterOp, field string, value interface{}) Filter {
	return Filter{Op: op, Field: field, Value: value}
}

// IsAll reports whether the filter matches everything.
func (f Filter) IsAll() bool {
	return f.Op == OpAll || (f.Op == OpAnd && len(f.Children) == 0)
}

// IsLogical reports whether the filter combines child filters.
func (f Filter) IsLogical() bool {
	return f.Op == OpAnd || f.Op == OpOr || f.Op == OpNor
}

// Values returns the operand list of an In or Nin filter.
func (f Filter) Values() []interface{} {
	vs, _ := f.Value.([]interface{})
	return vs
}

// Validate checks the filter tree for malformed nodes.
func (f Filter) Validate() error {
	switch f.Op {
	case OpAll:
		return nil
	case OpAnd, OpOr, OpNor:
		if f.Op != OpAnd && len(f.Children) == 0 {
			return fmt.Errorf("filter %s requires at least one operand", f.Op)
		}
		for _, c := range f.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpExists:
		if f.Field == "" {
			return fmt.Errorf("filter %s requires a field name", f.Op)
		}
		if strings.HasPrefix(f.Field, "$") {
			return fmt.Errorf("filter field %q must not start with '$'", f.Field)
		}
		if f.Op == OpExists {
			if _, ok := f.Value.(bool); !ok {
				return fmt.Errorf("filter %s on %q requires a bool operand", f.Op, f.Field)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported filter operator %q", f.Op)
	}
}

func (f Filter) String() string {
	switch {
	case f.IsAll():
		return "{}"
	case f.IsLogical():
		parts := make([]string, len(f.Children))
		for i, c := range f.Children {
			parts[i] = c.String()
		}
		return fmt.Sprintf("{%s: [%s]}", f.Op, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("{%s: {%s: %v}}", f.Field, f.Op, f.Value)
	}
}

// SortField orders query results by a single field.
type SortField struct {
	Field string
	Desc  bool
}

// Asc sorts by field ascending.
func Asc(field string) SortField { return SortField{Field: field} }

// Desc sorts by field descending.
func Desc(field string) SortField { return SortField{Field: field, Desc: true} }
