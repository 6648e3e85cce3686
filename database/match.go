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
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The embedded backends evaluate filters and updates in process. Values are
// compared the way MongoDB compares them: numbers compare across int32,
// int64, float64 and decimal, arrays match an equality on any element, and
// ordering operators only match values of the same type bracket.

// normalizeValue passes v through the BSON codec so filter operands and
// stored values share one Go representation.
func normalizeValue(v interface{}) (interface{}, error) {
	raw, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, err
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out[0].Value, nil
}

// normalizeFilter returns a copy of f whose operands went through the codec.
func normalizeFilter(f types.Filter) (types.Filter, error) {
	if err := f.Validate(); err != nil {
		return f, err
	}
	switch {
	case f.IsAll():
		return types.All(), nil
	case f.IsLogical():
		children := make([]types.Filter, len(f.Children))
		for i, c := range f.Children {
			n, err := normalizeFilter(c)
			if err != nil {
				return f, err
			}
			children[i] = n
		}
		return types.Filter{Op: f.Op, Children: children}, nil
	case f.Op == types.OpIn || f.Op == types.OpNin:
		vals := make([]interface{}, 0, len(f.Values()))
		for _, v := range f.Values() {
			n, err := normalizeValue(v)
			if err != nil {
				return f, err
			}
			vals = append(vals, n)
		}
		return types.Filter{Op: f.Op, Field: f.Field, Value: vals}, nil
	case f.Op == types.OpExists:
		return f, nil
	default:
		n, err := normalizeValue(f.Value)
		if err != nil {
			return f, err
		}
		return types.Filter{Op: f.Op, Field: f.Field, Value: n}, nil
	}
}

// matches evaluates a normalized filter against doc.
func matches(doc bson.D, f types.Filter) bool {
	switch f.Op {
	case types.OpAll:
		return true
	case types.OpAnd:
		for _, c := range f.Children {
			if !matches(doc, c) {
				return false
			}
		}
		return true
	case types.OpOr:
		for _, c := range f.Children {
			if matches(doc, c) {
				return true
			}
		}
		return false
	case types.OpNor:
		for _, c := range f.Children {
			if matches(doc, c) {
				return false
			}
		}
		return true
	}

	vals, found := lookupPath(doc, splitPath(f.Field))
	switch f.Op {
	case types.OpExists:
		return found == f.Value.(bool)
	case types.OpEq:
		return anyEqual(vals, found, f.Value)
	case types.OpNe:
		return !anyEqual(vals, found, f.Value)
	case types.OpIn:
		for _, v := range f.Values() {
			if anyEqual(vals, found, v) {
				return true
			}
		}
		return false
	case types.OpNin:
		for _, v := range f.Values() {
			if anyEqual(vals, found, v) {
				return false
			}
		}
		return true
	case types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		return anyOrdered(vals, found, f.Op, f.Value)
	}
	return false
}

func splitPath(path string) []string { return strings.Split(path, ".") }

// lookupPath resolves a dotted path. Arrays met on the way fan out to their
// elements, so a path may resolve to several values.
func lookupPath(v interface{}, parts []string) ([]interface{}, bool) {
	if len(parts) == 0 {
		return []interface{}{v}, true
	}
	head, rest := parts[0], parts[1:]
	switch t := v.(type) {
	case bson.D:
		for _, e := range t {
			if e.Key == head {
				return lookupPath(e.Value, rest)
			}
		}
		return nil, false
	case bson.M:
		child, ok := t[head]
		if !ok {
			return nil, false
		}
		return lookupPath(child, rest)
	case bson.A:
		return lookupArray([]interface{}(t), head, rest)
	case []interface{}:
		return lookupArray(t, head, rest)
	}
	return nil, false
}

func lookupArray(arr []interface{}, head string, rest []string) ([]interface{}, bool) {
	if idx, err := strconv.Atoi(head); err == nil && idx >= 0 {
		if idx < len(arr) {
			return lookupPath(arr[idx], rest)
		}
		return nil, false
	}
	var out []interface{}
	found := false
	for _, elem := range arr {
		if !isDocument(elem) {
			continue
		}
		vals, ok := lookupPath(elem, append([]string{head}, rest...))
		if ok {
			found = true
			out = append(out, vals...)
		}
	}
	return out, found
}

func anyEqual(vals []interface{}, found bool, want interface{}) bool {
	if !found {
		return want == nil
	}
	for _, v := range vals {
		if valuesEqual(v, want) {
			return true
		}
		if arr, ok := asArray(v); ok {
			for _, elem := range arr {
				if valuesEqual(elem, want) {
					return true
				}
			}
		}
	}
	return false
}

func anyOrdered(vals []interface{}, found bool, op types.FilterOp, want interface{}) bool {
	if !found {
		return false
	}
	check := func(v interface{}) bool {
		if typeRank(v) != typeRank(want) {
			return false
		}
		c := compareValues(v, want)
		switch op {
		case types.OpGt:
			return c > 0
		case types.OpGte:
			return c >= 0
		case types.OpLt:
			return c < 0
		case types.OpLte:
			return c <= 0
		}
		return false
	}
	for _, v := range vals {
		if check(v) {
			return true
		}
		if arr, ok := asArray(v); ok && typeRank(want) != rankArray {
			for _, elem := range arr {
				if check(elem) {
					return true
				}
			}
		}
	}
	return false
}

const (
	rankMinKey = iota
	rankNull
	rankNumber
	rankString
	rankDocument
	rankArray
	rankBinary
	rankObjectID
	rankBool
	rankDateTime
	rankTimestamp
	rankRegex
	rankOther
	rankMaxKey
)

func typeRank(v interface{}) int {
	switch v.(type) {
	case primitive.MinKey:
		return rankMinKey
	case nil, primitive.Null, primitive.Undefined:
		return rankNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, primitive.Decimal128:
		return rankNumber
	case string, primitive.Symbol:
		return rankString
	case bson.D, bson.M, map[string]interface{}:
		return rankDocument
	case bson.A, []interface{}:
		return rankArray
	case primitive.Binary, []byte:
		return rankBinary
	case primitive.ObjectID:
		return rankObjectID
	case bool:
		return rankBool
	case primitive.DateTime:
		return rankDateTime
	case primitive.Timestamp:
		return rankTimestamp
	case primitive.Regex:
		return rankRegex
	case primitive.MaxKey:
		return rankMaxKey
	}
	return rankOther
}

func valuesEqual(a, b interface{}) bool {
	return typeRank(a) == typeRank(b) && compareValues(a, b) == 0
}

// compareValues orders any two values: first by type bracket, then by value.
func compareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(int64(ra), int64(rb))
	}
	switch ra {
	case rankNumber:
		return compareNumbers(toFloat(a), toFloat(b))
	case rankString:
		return strings.Compare(toString(a), toString(b))
	case rankDocument:
		return compareDocuments(asDocument(a), asDocument(b))
	case rankArray:
		x, _ := asArray(a)
		y, _ := asArray(b)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compareValues(x[i], y[i]); c != 0 {
				return c
			}
		}
		return compareInts(int64(len(x)), int64(len(y)))
	case rankBinary:
		x, y := toBinary(a), toBinary(b)
		if c := compareInts(int64(len(x.Data)), int64(len(y.Data))); c != 0 {
			return c
		}
		if c := compareInts(int64(x.Subtype), int64(y.Subtype)); c != 0 {
			return c
		}
		return bytes.Compare(x.Data, y.Data)
	case rankObjectID:
		x, y := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(x[:], y[:])
	case rankBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case rankDateTime:
		return compareInts(int64(a.(primitive.DateTime)), int64(b.(primitive.DateTime)))
	case rankTimestamp:
		x, y := a.(primitive.Timestamp), b.(primitive.Timestamp)
		if c := compareInts(int64(x.T), int64(y.T)); c != 0 {
			return c
		}
		return compareInts(int64(x.I), int64(y.I))
	case rankRegex:
		x, y := a.(primitive.Regex), b.(primitive.Regex)
		if c := strings.Compare(x.Pattern, y.Pattern); c != 0 {
			return c
		}
		return strings.Compare(x.Options, y.Options)
	case rankOther:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return 0
}

func compareDocuments(x, y bson.D) int {
	for i := 0; i < len(x) && i < len(y); i++ {
		if c := strings.Compare(x[i].Key, y[i].Key); c != 0 {
			return c
		}
		if c := compareValues(x[i].Value, y[i].Value); c != 0 {
			return c
		}
	}
	return compareInts(int64(len(x)), int64(len(y)))
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareNumbers(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	case math.IsNaN(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func toString(v interface{}) string {
	if s, ok := v.(primitive.Symbol); ok {
		return string(s)
	}
	return v.(string)
}

func toBinary(v interface{}) primitive.Binary {
	if b, ok := v.([]byte); ok {
		return primitive.Binary{Data: b}
	}
	return v.(primitive.Binary)
}

func isDocument(v interface{}) bool { return typeRank(v) == rankDocument }

func asDocument(v interface{}) bson.D {
	switch t := v.(type) {
	case bson.D:
		return t
	case bson.M:
		return mapToD(t)
	case map[string]interface{}:
		return mapToD(t)
	}
	return nil
}

func mapToD(m map[string]interface{}) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: m[k]})
	}
	return out
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case bson.A:
		return []interface{}(t), true
	case []interface{}:
		return t, true
	}
	return nil, false
}

// sortDocuments orders docs by the given fields. Missing fields sort as null
// and an array sorts by its smallest (ascending) or largest (descending)
// element.
func sortDocuments(docs []bson.D, fields []types.SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range fields {
			a := sortKey(docs[i], sf)
			b := sortKey(docs[j], sf)
			c := compareValues(a, b)
			if sf.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func sortKey(doc bson.D, sf types.SortField) interface{} {
	vals, found := lookupPath(doc, splitPath(sf.Field))
	if !found || len(vals) == 0 {
		return nil
	}
	var flat []interface{}
	for _, v := range vals {
		if arr, ok := asArray(v); ok && len(arr) > 0 {
			flat = append(flat, arr...)
			continue
		}
		flat = append(flat, v)
	}
	best := flat[0]
	for _, v := range flat[1:] {
		c := compareValues(v, best)
		if (!sf.Desc && c < 0) || (sf.Desc && c > 0) {
			best = v
		}
	}
	return best
}

// applyUpdate applies the operations of u to doc in order.
func applyUpdate(doc bson.D, u types.Update) (bson.D, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	for _, op := range u.Ops() {
		parts := splitPath(op.Field)
		switch op.Op {
		case types.UpdateSet:
			v, err := normalizeValue(op.Value)
			if err != nil {
				return nil, err
			}
			doc, err = setPath(doc, parts, v)
			if err != nil {
				return nil, err
			}
		case types.UpdateUnset:
			doc = unsetPath(doc, parts)
		case types.UpdateInc:
			delta, err := normalizeValue(op.Value)
			if err != nil {
				return nil, err
			}
			if typeRank(delta) != rankNumber {
				return nil, fmt.Errorf("cannot increment with non-numeric argument: {%s: %v}", op.Field, op.Value)
			}
			cur, found := lookupPath(doc, parts)
			next := delta
			if found {
				if len(cur) != 1 || typeRank(cur[0]) != rankNumber {
					return nil, fmt.Errorf("cannot apply $inc to a value of non-numeric type at %q", op.Field)
				}
				next = addNumbers(cur[0], delta)
			}
			doc, err = setPath(doc, parts, next)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported update operator %q", op.Op)
		}
	}
	return doc, nil
}

func setPath(doc bson.D, parts []string, value interface{}) (bson.D, error) {
	head := parts[0]
	for i, e := range doc {
		if e.Key != head {
			continue
		}
		if len(parts) == 1 {
			doc[i].Value = value
			return doc, nil
		}
		child, err := setIn(e.Value, parts[1:], value, head)
		if err != nil {
			return nil, err
		}
		doc[i].Value = child
		return doc, nil
	}
	if len(parts) == 1 {
		return append(doc, bson.E{Key: head, Value: value}), nil
	}
	child, err := setPath(bson.D{}, parts[1:], value)
	if err != nil {
		return nil, err
	}
	return append(doc, bson.E{Key: head, Value: child}), nil
}

func setIn(container interface{}, parts []string, value interface{}, parent string) (interface{}, error) {
	switch t := container.(type) {
	case bson.D:
		return setPath(t, parts, value)
	case bson.M:
		return setPath(mapToD(t), parts, value)
	case bson.A, []interface{}:
		arr, _ := asArray(t)
		idx, err := strconv.Atoi(parts[0])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("cannot create field %q in array %q", parts[0], parent)
		}
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		if len(parts) == 1 {
			arr[idx] = value
			return bson.A(arr), nil
		}
		if arr[idx] == nil {
			arr[idx] = bson.D{}
		}
		child, err := setIn(arr[idx], parts[1:], value, parts[0])
		if err != nil {
			return nil, err
		}
		arr[idx] = child
		return bson.A(arr), nil
	}
	return nil, fmt.Errorf("cannot create field %q in element {%s: %v}", parts[0], parent, container)
}

func unsetPath(doc bson.D, parts []string) bson.D {
	head := parts[0]
	for i, e := range doc {
		if e.Key != head {
			continue
		}
		if len(parts) == 1 {
			return append(doc[:i:i], doc[i+1:]...)
		}
		switch child := e.Value.(type) {
		case bson.D:
			doc[i].Value = unsetPath(child, parts[1:])
		case bson.M:
			doc[i].Value = unsetPath(mapToD(child), parts[1:])
		case bson.A:
			if idx, err := strconv.Atoi(parts[1]); err == nil && idx >= 0 && idx < len(child) {
				if len(parts) == 2 {
					child[idx] = nil
				} else if sub, ok := child[idx].(bson.D); ok {
					child[idx] = unsetPath(sub, parts[2:])
				}
			}
		}
		return doc
	}
	return doc
}

// addNumbers keeps the widest integer type and falls back to float64 on
// overflow or when either side is fractional.
func addNumbers(a, b interface{}) interface{} {
	ai, aInt := asInt64(a)
	bi, bInt := asInt64(b)
	if aInt && bInt {
		sum := ai + bi
		overflow := (bi > 0 && sum < ai) || (bi < 0 && sum > ai)
		if !overflow {
			_, a32 := a.(int32)
			_, b32 := b.(int32)
			if a32 && b32 && sum >= math.MinInt32 && sum <= math.MaxInt32 {
				return int32(sum)
			}
			return sum
		}
	}
	return toFloat(a) + toFloat(b)
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
