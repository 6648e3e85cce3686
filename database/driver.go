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
	"context"

	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

// Driver is a connected database client. It is safe for concurrent use.
type Driver interface {
	Type() types.DatabaseType
	Ping(ctx context.Context) error
	NewSession(ctx context.Context) (SessionHandle, error)
	Close(ctx context.Context) error
}

// SessionHandle is one driver session. It owns at most one transaction.
type SessionHandle interface {
	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	// Collection binds a collection to the session; operations join the
	// session transaction while one is active.
	Collection(name string) CollectionHandle
	// End releases the session. An active transaction is discarded.
	End(ctx context.Context) error
}

// CollectionHandle is the set of collection operations the record store needs.
type CollectionHandle interface {
	InsertOne(ctx context.Context, doc bson.Raw) error
	InsertMany(ctx context.Context, docs []bson.Raw) error
	Find(ctx context.Context, filter types.Filter, opts FindOptions) ([]bson.Raw, error)
	UpdateMany(ctx context.Context, filter types.Filter, update types.Update) (UpdateResult, error)
	ReplaceOne(ctx context.Context, filter types.Filter, doc bson.Raw) (UpdateResult, error)
	DeleteMany(ctx context.Context, filter types.Filter) (int64, error)
	Count(ctx context.Context, filter types.Filter) (int64, error)
}

// FindOptions controls ordering and windowing of Find. Zero values mean no
// sort, no skip and no limit.
type FindOptions struct {
	Sort  []types.SortField
	Skip  int64
	Limit int64
}

// UpdateResult reports how many documents matched and how many changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}
