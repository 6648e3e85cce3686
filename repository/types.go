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

	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
)

// CollectionProvider hands out collection handles bound to a session.
// *database.Session is one.
type CollectionProvider interface {
	Collection(name string) (database.CollectionHandle, error)
}

// CrudRepository defines the record operations for a generic record type.
type CrudRepository[T any] interface {
	Insert(ctx context.Context, rec T, opts ...CallOption) error

	// InsertMany inserts recs in one backend call. A failure part way through
	// may leave some records written; nothing is retried.
	InsertMany(ctx context.Context, recs []T, opts ...CallOption) error

	// Query returns every matching record in no particular order.
	Query(ctx context.Context, filter types.Filter, opts ...CallOption) ([]T, error)

	// Update applies u to every matching record and returns the matched count.
	Update(ctx context.Context, filter types.Filter, u types.Update, opts ...CallOption) (int64, error)

	// Replace replaces one matching record with rec and re-issues the
	// replacement until the backend reports as many modified as matched.
	Replace(ctx context.Context, filter types.Filter, rec T, opts ...CallOption) error

	// Delete removes every matching record and returns how many were removed.
	Delete(ctx context.Context, filter types.Filter, opts ...CallOption) (int64, error)

	Count(ctx context.Context, filter types.Filter, opts ...CallOption) (int64, error)
}

// PageQueryRepository defines pagination functionality for listing records.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest, opts ...CallOption) (*types.Pagination[T], error)
}

// Repository combines record operations and pagination over one record shape.
type Repository[T any] interface {
	CrudRepository[T]
	PageQueryRepository[T]
	Shape() *Shape[T]
}

type callOptions struct {
	collection string
}

// CallOption adjusts a single repository call.
type CallOption func(*callOptions)

// InCollection runs the call against name instead of the shape's collection.
func InCollection(name string) CallOption {
	return func(o *callOptions) { o.collection = name }
}
