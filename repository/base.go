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
	"errors"

	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

type repositoryConfig struct {
	policy  ReplacePolicy
	metrics *Metrics
	logger  database.Logger
}

// Option configures a repository.
type Option func(*repositoryConfig)

// WithReplacePolicy sets the retry policy of Replace.
func WithReplacePolicy(p ReplacePolicy) Option {
	return func(c *repositoryConfig) { c.policy = p }
}

// WithMetrics records every operation on m.
func WithMetrics(m *Metrics) Option {
	return func(c *repositoryConfig) { c.metrics = m }
}

func WithLogger(l database.Logger) Option {
	return func(c *repositoryConfig) { c.logger = l }
}

type baseRepositoryImpl[T any] struct {
	provider CollectionProvider
	shape    *Shape[T]
	policy   ReplacePolicy
	metrics  *Metrics
	logger   database.Logger
}

// NewRepository returns a generic repository storing T as described by shape.
// Every call borrows a collection handle from provider, so operations join
// the provider's transaction while one is active.
func NewRepository[T any](provider CollectionProvider, shape *Shape[T], opts ...Option) Repository[T] {
	cfg := repositoryConfig{policy: DefaultReplacePolicy(), logger: database.GetLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if shape == nil {
		shape = NewShape[T]("")
	}
	return &baseRepositoryImpl[T]{
		provider: provider,
		shape:    shape,
		policy:   cfg.policy,
		metrics:  cfg.metrics,
		logger:   cfg.logger,
	}
}

func (r *baseRepositoryImpl[T]) Shape() *Shape[T] { return r.shape }

func (r *baseRepositoryImpl[T]) collection(op string, opts []CallOption) (database.CollectionHandle, string, error) {
	co := callOptions{collection: r.shape.Collection()}
	for _, opt := range opts {
		opt(&co)
	}
	if co.collection == "" {
		return nil, "", database.ConfigurationError(op, errors.New("collection name is empty"))
	}
	if r.provider == nil {
		return nil, co.collection, database.InvalidStateError(op, "repository has no session")
	}
	coll, err := r.provider.Collection(co.collection)
	if err != nil {
		return nil, co.collection, err
	}
	return coll, co.collection, nil
}

func (r *baseRepositoryImpl[T]) Insert(ctx context.Context, rec T, opts ...CallOption) (err error) {
	coll, name, err := r.collection("insert", opts)
	defer func() { r.metrics.observe(name, "insert", err) }()
	if err != nil {
		return err
	}
	raw, err := r.shape.Encode(rec)
	if err != nil {
		return err
	}
	return database.ClassifyWrite("insert into "+name, coll.InsertOne(ctx, raw))
}

func (r *baseRepositoryImpl[T]) InsertMany(ctx context.Context, recs []T, opts ...CallOption) (err error) {
	coll, name, err := r.collection("insert many", opts)
	defer func() { r.metrics.observe(name, "insert_many", err) }()
	if err != nil || len(recs) == 0 {
		return err
	}
	docs := make([]bson.Raw, 0, len(recs))
	for _, rec := range recs {
		raw, err := r.shape.Encode(rec)
		if err != nil {
			return err
		}
		docs = append(docs, raw)
	}
	return database.ClassifyWrite("insert many into "+name, coll.InsertMany(ctx, docs))
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, filter types.Filter, opts ...CallOption) (out []T, err error) {
	coll, name, err := r.collection("query", opts)
	defer func() { r.metrics.observe(name, "query", err) }()
	if err != nil {
		return nil, err
	}
	return r.find(ctx, coll, name, filter, database.FindOptions{})
}

func (r *baseRepositoryImpl[T]) find(ctx context.Context, coll database.CollectionHandle, name string,
	filter types.Filter, fo database.FindOptions) ([]T, error) {
	raws, err := coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, database.ClassifyRead("query "+name, err)
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		rec, err := r.shape.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, filter types.Filter, u types.Update, opts ...CallOption) (matched int64, err error) {
	coll, name, err := r.collection("update", opts)
	defer func() { r.metrics.observe(name, "update", err) }()
	if err != nil {
		return 0, err
	}
	if err = u.Validate(); err != nil {
		return 0, database.WriteError("update "+name, err)
	}
	res, err := coll.UpdateMany(ctx, filter, u)
	if err != nil {
		return 0, database.ClassifyWrite("update "+name, err)
	}
	return res.Matched, nil
}

func (r *baseRepositoryImpl[T]) Replace(ctx context.Context, filter types.Filter, rec T, opts ...CallOption) (err error) {
	coll, name, err := r.collection("replace", opts)
	defer func() { r.metrics.observe(name, "replace", err) }()
	if err != nil {
		return err
	}
	raw, err := r.shape.Encode(rec)
	if err != nil {
		return err
	}
	attempts, err := replaceUntilConverged(ctx, coll, r.policy, "replace in "+name, filter, raw)
	r.metrics.observeReplace(attempts)
	if attempts > 1 {
		r.logger.Debug("replace retried", "collection", name, "attempts", attempts, "error", err)
	}
	return err
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, filter types.Filter, opts ...CallOption) (n int64, err error) {
	coll, name, err := r.collection("delete", opts)
	defer func() { r.metrics.observe(name, "delete", err) }()
	if err != nil {
		return 0, err
	}
	n, err = coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, database.ClassifyWrite("delete from "+name, err)
	}
	return n, nil
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context, filter types.Filter, opts ...CallOption) (n int64, err error) {
	coll, name, err := r.collection("count", opts)
	defer func() { r.metrics.observe(name, "count", err) }()
	if err != nil {
		return 0, err
	}
	n, err = coll.Count(ctx, filter)
	if err != nil {
		return 0, database.ClassifyRead("count "+name, err)
	}
	return n, nil
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, page *types.PageRequest, opts ...CallOption) (result *types.Pagination[T], err error) {
	if page == nil {
		page = types.NewDefaultPageRequest(1, 10)
	}
	coll, name, err := r.collection("page", opts)
	defer func() { r.metrics.observe(name, "page", err) }()
	if err != nil {
		return nil, err
	}

	result = types.NewDefaultPagination[T](page.GetPage(), page.GetPageSize())
	total, err := coll.Count(ctx, page.GetFilter())
	if err != nil {
		return nil, database.ClassifyRead("page "+name, err)
	}
	result.Total = total
	if total == 0 || int64(page.GetOffset()) >= total {
		return result, nil
	}

	items, err := r.find(ctx, coll, name, page.GetFilter(), database.FindOptions{
		Sort:  page.GetOrders(),
		Skip:  int64(page.GetOffset()),
		Limit: int64(page.GetPageSize()),
	})
	if err != nil {
		return nil, err
	}
	result.Items = items
	return result, nil
}
