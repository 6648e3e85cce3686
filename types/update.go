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

// UpdateOp is a field-level update operator.
type UpdateOp string

const (
	UpdateSet   UpdateOp = "$set"
	UpdateUnset UpdateOp = "$unset"
	UpdateInc   UpdateOp = "$inc"
)

// FieldUpdate is one operation of an Update.
type FieldUpdate struct {
	Op    UpdateOp
	Field string
	Value interface{}
}

// Update is an ordered list of field-level operations applied to every
// matching record.
type Update struct {
	ops []FieldUpdate
}

// NewUpdate returns an empty update specification.
func NewUpdate() Update { return Update{} }

// Set assigns value to field, creating intermediate documents as needed.
func (u Update) Set(field string, value interface{}) Update {
	return u.with(FieldUpdate{Op: UpdateSet, Field: field, Value: value})
}

// Unset removes field.
func (u Update) Unset(field string) Update {
	return u.with(FieldUpdate{Op: UpdateUnset, Field: field})
}

// Inc adds delta to a numeric field; a missing field is set to delta.
func (u Update) Inc(field string, delta interface{}) Update {
	return u.with(FieldUpdate{Op: UpdateInc, Field: field, Value: delta})
}

func (u Update) with(op FieldUpdate) Update {
	ops := make([]FieldUpdate, len(u.ops), len(u.ops)+1)
	copy(ops, u.ops)
	return Update{ops: append(ops, op)}
}

// Ops returns the operations in declaration order.
func (u Update) Ops() []FieldUpdate {
	out := make([]FieldUpdate, len(u.ops))
	copy(out, u.ops)
	return out
}

func (u Update) IsEmpty() bool { return len(u.ops) == 0 }

// Validate rejects empty updates, empty or operator-like field names and the
// same path touched by two operations.
func (u Update) Validate() error {
	if u.IsEmpty() {
		return fmt.Errorf("update specification is empty")
	}
	seen := make(map[string]UpdateOp, len(u.ops))
	for _, op := range u.ops {
		if op.Field == "" || strings.HasPrefix(op.Field, "$") {
			return fmt.Errorf("invalid update field %q", op.Field)
		}
		if op.Field == "_id" || strings.HasPrefix(op.Field, "_id.") {
			return fmt.Errorf("update must not modify the immutable field '_id'")
		}
		if prev, ok := seen[op.Field]; ok {
			return fmt.Errorf("update path %q is used by both %s and %s", op.Field, prev, op.Op)
		}
		seen[op.Field] = op.Op
	}
	return nil
}
