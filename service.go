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

package docstore

import (
	"context"
	"sync"

	"github.com/tomoncle/docstore/repository"
	"github.com/tomoncle/docstore/types"
)

type Service[T any] interface {
	// Save inserts one or more new records.
	Save(ctx context.Context, model ...T) error

	// All returns every record of the collection.
	All(ctx context.Context) ([]T, error)

	// List returns records that match the provided filter.
	List(ctx context.Context, filter types.Filter) ([]T, error)

	// Page returns a paginated list of records.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Count returns the number of records matching filter.
	Count(ctx context.Context, filter types.Filter) (int64, error)

	// Update applies u to every matching record and returns the matched count.
	Update(ctx context.Context, filter types.Filter, u types.Update) (int64, error)

	// Replace replaces one matching record with model.
	Replace(ctx context.Context, filter types.Filter, model T) error

	// Delete removes every matching record and returns how many were removed.
	Delete(ctx context.Context, filter types.Filter) (int64, error)

	// Repository exposes the underlying repository for per-call options.
	Repository() repository.Repository[T]
}

type baseServiceImpl[T any] struct {
	store *Store
	shape *repository.Shape[T]
	opts  []repository.Option
	repo  repository.Repository[T]
	once  sync.Once
}

// NewService returns a Service for records shaped by shape, bound to the
// session of store. Operations join the store's transaction while one is
// active.
func NewService[T any](store *Store, shape *repository.Shape[T], opts ...repository.Option) Service[T] {
	return &baseServiceImpl[T]{store: store, shape: shape, opts: opts}
}

func (s *baseServiceImpl[T]) baseRepo() repository.Repository[T] {
	s.once.Do(func() {
		opts := append(s.store.repositoryOptions(), s.opts...)
		s.repo = repository.NewRepository[T](s.store.session, s.shape, opts...)
	})
	return s.repo
}

func (s *baseServiceImpl[T]) Repository() repository.Repository[T] { return s.baseRepo() }

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...T) error {
	if len(model) == 1 {
		return s.baseRepo().Insert(ctx, model[0])
	}
	return s.baseRepo().InsertMany(ctx, model)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]T, error) {
	return s.baseRepo().Query(ctx, types.All())
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter types.Filter) ([]T, error) {
	return s.baseRepo().Query(ctx, filter)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.baseRepo().Page(ctx, page)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, filter types.Filter) (int64, error) {
	return s.baseRepo().Count(ctx, filter)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, filter types.Filter, u types.Update) (int64, error) {
	return s.baseRepo().Update(ctx, filter, u)
}

func (s *baseServiceImpl[T]) Replace(ctx context.Context, filter types.Filter, model T) error {
	return s.baseRepo().Replace(ctx, filter, model)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, filter types.Filter) (int64, error) {
	return s.baseRepo().Delete(ctx, filter)
}
