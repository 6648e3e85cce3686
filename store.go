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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/filestore"
	"github.com/tomoncle/docstore/repository"
	"github.com/tomoncle/docstore/types"
)

type storeOptions struct {
	logger   database.Logger
	policy   *repository.ReplacePolicy
	registry prometheus.Registerer
	session  []database.SessionOption
}

// Option configures a Store.
type Option func(*storeOptions)

// WithLogger sets the logger of the session and of every service.
func WithLogger(l database.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// WithReplacePolicy sets the Replace retry policy of every service.
func WithReplacePolicy(p repository.ReplacePolicy) Option {
	return func(o *storeOptions) { o.policy = &p }
}

// WithMetrics registers repository metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *storeOptions) { o.registry = reg }
}

// WithSessionOptions passes opts to database.Open.
func WithSessionOptions(opts ...database.SessionOption) Option {
	return func(o *storeOptions) { o.session = append(o.session, opts...) }
}

// Store is one session against an endpoint together with the settings its
// services share.
type Store struct {
	session *database.Session
	logger  database.Logger
	policy  *repository.ReplacePolicy
	metrics *repository.Metrics
}

// Open validates cfg, connects and opens a session.
func Open(ctx context.Context, cfg *database.DatabaseEndpointConfig, opts ...Option) (*Store, error) {
	o := storeOptions{logger: database.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	var metrics *repository.Metrics
	if o.registry != nil {
		m, err := repository.NewMetrics(o.registry)
		if err != nil {
			return nil, database.ConfigurationError("register metrics", err)
		}
		metrics = m
	}

	sessOpts := append([]database.SessionOption{database.WithLogger(o.logger)}, o.session...)
	session, err := database.Open(ctx, cfg, sessOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{session: session, logger: o.logger, policy: o.policy, metrics: metrics}, nil
}

// OpenFromFile loads a YAML or JSON config file and opens the endpoint named
// name of type dbType.
func OpenFromFile(ctx context.Context, path string, dbType types.DatabaseType, name string, opts ...Option) (*Store, error) {
	file, err := database.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := file.Resolve(dbType, name)
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg, opts...)
}

// OpenFileStore opens a blob store on cfg. It uses its own connection.
func OpenFileStore(ctx context.Context, cfg *database.DatabaseEndpointConfig, opts ...filestore.Option) (*filestore.FileStore, error) {
	return filestore.Open(ctx, cfg, opts...)
}

func (s *Store) Session() *database.Session { return s.session }

func (s *Store) StartTransaction(ctx context.Context) error { return s.session.StartTransaction(ctx) }

func (s *Store) CommitTransaction(ctx context.Context) error { return s.session.CommitTransaction(ctx) }

func (s *Store) AbortTransaction(ctx context.Context) error { return s.session.AbortTransaction(ctx) }

// WithTransaction runs fn in a transaction, committing when fn returns nil
// and aborting otherwise.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.session.WithTransaction(ctx, fn)
}

func (s *Store) Ping(ctx context.Context) error { return s.session.Ping(ctx) }

func (s *Store) HealthCheck(ctx context.Context) *database.HealthStatus {
	return s.session.HealthCheck(ctx)
}

// Close ends the session. It is safe to call more than once.
func (s *Store) Close(ctx context.Context) error { return s.session.Close(ctx) }

func (s *Store) repositoryOptions() []repository.Option {
	opts := []repository.Option{repository.WithLogger(s.logger), repository.WithMetrics(s.metrics)}
	if s.policy != nil {
		opts = append(opts, repository.WithReplacePolicy(*s.policy))
	}
	return opts
}
