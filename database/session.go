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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

// TxState is the state of the session transaction.
type TxState int

const (
	TxNotStarted TxState = iota
	TxActive
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "NotStarted"
	}
}

// Session is one logical unit of work bound to one driver connection. The
// transaction state is guarded by a mutex, but a transactional sequence must
// not be interleaved from several goroutines.
type Session struct {
	id         uuid.UUID
	cfg        *DatabaseEndpointConfig
	driver     Driver
	ownsDriver bool
	handle     SessionHandle
	logger     Logger

	mu     sync.Mutex
	state  TxState
	closed bool
}

type sessionOptions struct {
	logger     Logger
	connection *ConnectionConfig
	driver     Driver
	factory    *DriverFactory
}

// SessionOption customizes Open.
type SessionOption func(*sessionOptions)

// WithLogger sets the session logger.
func WithLogger(logger Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = logger }
}

// WithConnectionConfig overrides cfg.Connection.
func WithConnectionConfig(cc ConnectionConfig) SessionOption {
	return func(o *sessionOptions) { o.connection = &cc }
}

// WithDriver opens the session on an already connected driver. The driver is
// not closed by Session.Close.
func WithDriver(driver Driver) SessionOption {
	return func(o *sessionOptions) { o.driver = driver }
}

// WithDriverFactory replaces the default driver factory.
func WithDriverFactory(factory *DriverFactory) SessionOption {
	return func(o *sessionOptions) { o.factory = factory }
}

// Open validates cfg, connects the driver for cfg.DatabaseType and starts a
// driver session.
func Open(ctx context.Context, cfg *DatabaseEndpointConfig, opts ...SessionOption) (*Session, error) {
	o := &sessionOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = GetLogger()
	}
	if cfg == nil {
		return nil, ConfigurationError("open session", errors.New("config is nil"))
	}
	cfg = cfg.Clone()
	if o.connection != nil {
		cfg.Connection = *o.connection
	}
	cfg.Connection = cfg.Connection.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, owns := o.driver, false
	if driver == nil {
		factory := o.factory
		if factory == nil {
			factory = NewDriverFactory(o.logger)
		}
		var err error
		if driver, err = factory.CreateFromConfig(ctx, cfg); err != nil {
			return nil, err
		}
		owns = true
	}

	handle, err := driver.NewSession(ctx)
	if err != nil {
		if owns {
			_ = driver.Close(ctx)
		}
		return nil, ConnectionError("open session", err)
	}

	s := &Session{
		id:         uuid.New(),
		cfg:        cfg,
		driver:     driver,
		ownsDriver: owns,
		handle:     handle,
		logger:     o.logger,
	}
	s.logger.Debug("Session opened", "session", s.id, "type", cfg.Type(), "database", cfg.DatabaseName)
	return s, nil
}

func (s *Session) ID() string { return s.id.String() }

// Config returns a copy of the resolved endpoint configuration.
func (s *Session) Config() *DatabaseEndpointConfig { return s.cfg.Clone() }

func (s *Session) Type() types.DatabaseType { return s.driver.Type() }

func (s *Session) TxState() TxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InTransaction reports whether a transaction is active.
func (s *Session) InTransaction() bool { return s.TxState() == TxActive }

// StartTransaction begins a transaction. It fails while one is active. After
// a commit or an abort a new transaction may be started.
func (s *Session) StartTransaction(ctx context.Context) error {
	const op = "start transaction"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return InvalidStateError(op, "session is closed")
	}
	if s.state == TxActive {
		return InvalidStateError(op, "a transaction is already active")
	}
	if err := s.handle.StartTransaction(ctx); err != nil {
		return BackendError(op, err)
	}
	s.state = TxActive
	s.logger.Debug("Transaction started", "session", s.id)
	return nil
}

// CommitTransaction commits the active transaction. A failed commit leaves
// the transaction Aborted.
func (s *Session) CommitTransaction(ctx context.Context) error {
	const op = "commit transaction"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(op); err != nil {
		return err
	}
	if err := s.handle.CommitTransaction(ctx); err != nil {
		s.state = TxAborted
		s.logger.Warn("Transaction commit failed", "session", s.id, "error", err)
		return ClassifyWrite(op, err)
	}
	s.state = TxCommitted
	s.logger.Debug("Transaction committed", "session", s.id)
	return nil
}

// AbortTransaction rolls back the active transaction.
func (s *Session) AbortTransaction(ctx context.Context) error {
	const op = "abort transaction"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireActive(op); err != nil {
		return err
	}
	s.state = TxAborted
	if err := s.handle.AbortTransaction(ctx); err != nil {
		return BackendError(op, err)
	}
	s.logger.Debug("Transaction aborted", "session", s.id)
	return nil
}

func (s *Session) requireActive(op string) error {
	if s.closed {
		return InvalidStateError(op, "session is closed")
	}
	if s.state != TxActive {
		return InvalidStateError(op, "no active transaction (state %s)", s.state)
	}
	return nil
}

// WithTransaction runs fn inside a new transaction. The transaction is
// committed when fn returns nil and aborted when fn fails or panics; a panic
// is re-raised after the abort.
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := s.StartTransaction(ctx); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if abortErr := s.AbortTransaction(ctx); abortErr != nil {
				s.logger.Error("Abort after panic failed", "session", s.id, "error", abortErr)
			}
			panic(p)
		}
	}()
	if err := fn(ctx); err != nil {
		if abortErr := s.AbortTransaction(ctx); abortErr != nil {
			s.logger.Error("Abort after failure failed", "session", s.id, "error", abortErr)
		}
		return err
	}
	return s.CommitTransaction(ctx)
}

// Collection returns a handle on the named collection bound to this session.
func (s *Session) Collection(name string) (CollectionHandle, error) {
	const op = "collection"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, InvalidStateError(op, "session is closed")
	}
	if name == "" {
		return nil, ConfigurationError(op, errors.New("collection name is empty"))
	}
	return &sessionCollection{session: s, name: name, inner: s.handle.Collection(name)}, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// sessionPinger is implemented by session handles that must be pinged on
// their own connection while a transaction holds it.
type sessionPinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the backend through the session, on the transaction connection
// while one is active.
func (s *Session) Ping(ctx context.Context) error {
	if s.isClosed() {
		return InvalidStateError("ping", "session is closed")
	}
	ping := s.driver.Ping
	if p, ok := s.handle.(sessionPinger); ok {
		ping = p.Ping
	}
	if err := ping(ctx); err != nil {
		return ConnectionError("ping", err)
	}
	return nil
}

// HealthCheck pings the backend with a five second budget.
func (s *Session) HealthCheck(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		DatabaseType:  s.cfg.Type().String(),
		LastCheckTime: start,
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := s.Ping(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
		return status
	}
	status.Healthy = true
	status.Connected = true
	return status
}

// Close ends the driver session and, when the session opened it, the driver
// connection. Close is idempotent. An active transaction is discarded.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.state == TxActive {
		s.logger.Warn("Closing session with an active transaction; it will be discarded", "session", s.id)
		s.state = TxAborted
	}
	s.mu.Unlock()

	var errs []error
	if err := s.handle.End(ctx); err != nil {
		errs = append(errs, fmt.Errorf("end session: %w", err))
	}
	if s.ownsDriver {
		if err := s.driver.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close driver: %w", err))
		}
	}
	s.logger.Debug("Session closed", "session", s.id)
	if len(errs) > 0 {
		return BackendError("close session", errors.Join(errs...))
	}
	return nil
}

// sessionCollection guards a driver collection handle against use after
// Close and classifies driver errors.
type sessionCollection struct {
	session *Session
	name    string
	inner   CollectionHandle
}

func (c *sessionCollection) check(op string) error {
	if c.session.isClosed() {
		return InvalidStateError(op+" "+c.name, "session is closed")
	}
	return nil
}

func (c *sessionCollection) InsertOne(ctx context.Context, doc bson.Raw) error {
	if err := c.check("insert"); err != nil {
		return err
	}
	return ClassifyWrite("insert "+c.name, c.inner.InsertOne(ctx, doc))
}

func (c *sessionCollection) InsertMany(ctx context.Context, docs []bson.Raw) error {
	if err := c.check("insert many"); err != nil {
		return err
	}
	return ClassifyWrite("insert many "+c.name, c.inner.InsertMany(ctx, docs))
}

func (c *sessionCollection) Find(ctx context.Context, filter types.Filter, opts FindOptions) ([]bson.Raw, error) {
	if err := c.check("find"); err != nil {
		return nil, err
	}
	docs, err := c.inner.Find(ctx, filter, opts)
	return docs, ClassifyRead("find "+c.name, err)
}

func (c *sessionCollection) UpdateMany(ctx context.Context, filter types.Filter, update types.Update) (UpdateResult, error) {
	if err := c.check("update"); err != nil {
		return UpdateResult{}, err
	}
	res, err := c.inner.UpdateMany(ctx, filter, update)
	return res, ClassifyWrite("update "+c.name, err)
}

func (c *sessionCollection) ReplaceOne(ctx context.Context, filter types.Filter, doc bson.Raw) (UpdateResult, error) {
	if err := c.check("replace"); err != nil {
		return UpdateResult{}, err
	}
	res, err := c.inner.ReplaceOne(ctx, filter, doc)
	return res, ClassifyWrite("replace "+c.name, err)
}

func (c *sessionCollection) DeleteMany(ctx context.Context, filter types.Filter) (int64, error) {
	if err := c.check("delete"); err != nil {
		return 0, err
	}
	n, err := c.inner.DeleteMany(ctx, filter)
	return n, ClassifyWrite("delete "+c.name, err)
}

func (c *sessionCollection) Count(ctx context.Context, filter types.Filter) (int64, error) {
	if err := c.check("count"); err != nil {
		return 0, err
	}
	n, err := c.inner.Count(ctx, filter)
	return n, ClassifyRead("count "+c.name, err)
}
