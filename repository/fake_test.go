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
	"context"
	"reflect"

	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

func reflectTypeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

type fakeProvider struct {
	coll database.CollectionHandle
}

func (p *fakeProvider) Collection(string) (database.CollectionHandle, error) { return p.coll, nil }

// countingCollection reports a matched/modified mismatch for the first
// mismatches ReplaceOne calls and agreement afterwards.
type countingCollection struct {
	database.CollectionHandle

	mismatches   int
	failOn       int
	failure      error
	onReplace    func(n int)
	replaceCalls int
	updateCalls  int
}

func (c *countingCollection) ReplaceOne(_ context.Context, _ types.Filter, _ bson.Raw) (database.UpdateResult, error) {
	c.replaceCalls++
	if c.onReplace != nil {
		c.onReplace(c.replaceCalls)
	}
	if c.failOn > 0 && c.replaceCalls == c.failOn {
		return database.UpdateResult{}, c.failure
	}
	if c.replaceCalls <= c.mismatches {
		return database.UpdateResult{Matched: 1, Modified: 0}, nil
	}
	return database.UpdateResult{Matched: 1, Modified: 1}, nil
}

func (c *countingCollection) UpdateMany(context.Context, types.Filter, types.Update) (database.UpdateResult, error) {
	c.updateCalls++
	return database.UpdateResult{}, nil
}
