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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

func sampleDoc(t *testing.T) bson.D {
	t.Helper()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: 1},
		{Key: "name", Value: "widget"},
		{Key: "qty", Value: int32(5)},
		{Key: "price", Value: 2.5},
		{Key: "tags", Value: bson.A{"red", "blue"}},
		{Key: "dims", Value: bson.D{{Key: "w", Value: int64(10)}, {Key: "h", Value: 4}}},
		{Key: "parts", Value: bson.A{bson.D{{Key: "sku", Value: "a1"}}, bson.D{{Key: "sku", Value: "b2"}}}},
		{Key: "made", Value: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{Key: "note", Value: nil},
	})
	require.NoError(t, err)
	d, err := decodeDocument(raw)
	require.NoError(t, err)
	return d
}

func mustMatch(t *testing.T, doc bson.D, f types.Filter) bool {
	t.Helper()
	n, err := normalizeFilter(f)
	require.NoError(t, err)
	return matches(doc, n)
}

func TestMatchesComparisons(t *testing.T) {
	doc := sampleDoc(t)
	cases := []struct {
		name string
		f    types.Filter
		want bool
	}{
		{"all", types.All(), true},
		{"eq string", types.Eq("name", "widget"), true},
		{"eq numeric across types", types.Eq("qty", 5.0), true},
		{"eq int64 vs int32", types.Eq("qty", int64(5)), true},
		{"ne", types.Ne("name", "gadget"), true},
		{"gt", types.Gt("price", 2), true},
		{"lte", types.Lte("qty", 4), false},
		{"gt different bracket", types.Gt("name", 1), false},
		{"array membership", types.Eq("tags", "blue"), true},
		{"whole array", types.Eq("tags", bson.A{"red", "blue"}), true},
		{"in", types.In("tags", "green", "red"), true},
		{"nin", types.Nin("name", "widget", "gadget"), false},
		{"nested path", types.Eq("dims.w", 10), true},
		{"array of documents", types.Eq("parts.sku", "b2"), true},
		{"array index", types.Eq("tags.1", "blue"), true},
		{"exists", types.Exists("dims.h", true), true},
		{"not exists", types.Exists("missing", false), true},
		{"null matches missing", types.Eq("missing", nil), true},
		{"null matches null", types.Eq("note", nil), true},
		{"date", types.Gte("made", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), true},
		{"and", types.And(types.Eq("name", "widget"), types.Lt("qty", 10)), true},
		{"or", types.Or(types.Eq("name", "gadget"), types.Eq("qty", 6)), false},
		{"nor", types.Nor(types.Eq("name", "gadget")), true},
		{"empty and", types.And(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, mustMatch(t, doc, tc.f))
		})
	}
}

func TestNormalizeFilterRejectsMalformed(t *testing.T) {
	_, err := normalizeFilter(types.Eq("", 1))
	assert.Error(t, err)
	_, err = normalizeFilter(types.Or())
	assert.Error(t, err)
	_, err = normalizeFilter(types.Filter{Op: types.OpExists, Field: "a", Value: "yes"})
	assert.Error(t, err)
}

func TestSortDocuments(t *testing.T) {
	docs := []bson.D{
		{{Key: "n", Value: int32(3)}, {Key: "s", Value: "b"}},
		{{Key: "s", Value: "z"}},
		{{Key: "n", Value: 1.5}, {Key: "s", Value: "a"}},
		{{Key: "n", Value: int64(3)}, {Key: "s", Value: "a"}},
	}
	sortDocuments(docs, []types.SortField{types.Asc("n"), types.Desc("s")})
	var order []string
	for _, d := range docs {
		order = append(order, d[len(d)-1].Value.(string))
	}
	assert.Equal(t, []string{"z", "a", "b", "a"}, order)
}

func TestApplyUpdate(t *testing.T) {
	doc := sampleDoc(t)
	u := types.NewUpdate().
		Set("name", "gizmo").
		Set("dims.d", 7).
		Set("meta.created.by", "tester").
		Inc("qty", 2).
		Inc("views", int64(1)).
		Unset("note")
	out, err := applyUpdate(doc, u)
	require.NoError(t, err)

	get := func(path string) interface{} {
		vals, ok := lookupPath(out, splitPath(path))
		require.True(t, ok, path)
		return vals[0]
	}
	assert.Equal(t, "gizmo", get("name"))
	assert.Equal(t, int32(7), get("qty"))
	assert.Equal(t, int64(1), get("views"))
	assert.Equal(t, "tester", get("meta.created.by"))
	assert.EqualValues(t, 7, get("dims.d"))
	_, found := lookupPath(out, splitPath("note"))
	assert.False(t, found)
}

func TestApplyUpdateRejectsBadTargets(t *testing.T) {
	doc := sampleDoc(t)
	_, err := applyUpdate(doc, types.NewUpdate().Inc("name", 1))
	assert.Error(t, err)
	_, err = applyUpdate(doc, types.NewUpdate().Set("name.first", "x"))
	assert.Error(t, err)
	_, err = applyUpdate(doc, types.NewUpdate())
	assert.Error(t, err)
	_, err = applyUpdate(doc, types.NewUpdate().Set("_id", 2))
	assert.Error(t, err)
}

func TestAddNumbersWidens(t *testing.T) {
	assert.Equal(t, int32(3), addNumbers(int32(1), int32(2)))
	assert.Equal(t, int64(3), addNumbers(int32(1), int64(2)))
	assert.Equal(t, 3.5, addNumbers(int32(1), 2.5))
	assert.Equal(t, int64(2147483648), addNumbers(int32(2147483647), int32(1)))
}
