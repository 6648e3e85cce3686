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
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/tomoncle/docstore/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// OpenSQLDB opens a Bun database for a PostgreSQL, MySQL or SQLite endpoint,
// configures the pool and query hooks and verifies the connection with a
// ping bounded by the connect timeout.
func OpenSQLDB(ctx context.Context, cfg *DatabaseEndpointConfig, logger Logger) (*bun.DB, error) {
	const op = "open sql"
	if logger == nil {
		logger = GetLogger()
	}
	cc := cfg.Connection.withDefaults()

	sqlDB, db, err := createConnection(cfg)
	if err != nil {
		return nil, err
	}
	configureConnectionPool(cfg.Type(), sqlDB, cc)

	if cc.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if cc.SlowQueryTime > 0 {
		db.AddQueryHook(newSlowQueryHook(cc.SlowQueryTime, logger))
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, cc.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctxTimeout); err != nil {
		_ = db.Close()
		return nil, ConnectionError(op, fmt.Errorf("database connection test failed: %w", err))
	}

	logger.Info("Database connected successfully", "type", cfg.Type(), "host", cfg.Hosts[0], "database", cfg.DatabaseName)
	return db, nil
}

func createConnection(cfg *DatabaseEndpointConfig) (*sql.DB, *bun.DB, error) {
	const op = "open sql"
	switch cfg.Type() {
	case types.MySQL:
		c := cfg.Clone()
		for _, kv := range [][2]string{{"charset", "utf8mb4"}, {"parseTime", "true"}} {
			if _, ok := c.Options.Get(kv[0]); !ok {
				c.Options = c.Options.Set(kv[0], kv[1])
			}
		}
		if _, ok := c.Options.Get("timeout"); !ok && c.Connection.ConnectTimeout > 0 {
			c.Options = c.Options.Set("timeout", c.Connection.ConnectTimeout.String())
		}
		return openWith(op, c, "mysql", func(sqlDB *sql.DB) *bun.DB { return bun.NewDB(sqlDB, mysqldialect.New()) })
	case types.PostgreSQL:
		return openWith(op, cfg, "postgres", func(sqlDB *sql.DB) *bun.DB { return bun.NewDB(sqlDB, pgdialect.New()) })
	case types.SQLite:
		return openWith(op, cfg, sqliteshim.ShimName, func(sqlDB *sql.DB) *bun.DB { return bun.NewDB(sqlDB, sqlitedialect.New()) })
	default:
		return nil, nil, ConfigurationError(op, fmt.Errorf("unsupported sql database type: %s", cfg.DatabaseType))
	}
}

func openWith(op string, cfg *DatabaseEndpointConfig, driverName string, wrap func(*sql.DB) *bun.DB) (*sql.DB, *bun.DB, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, nil, ConnectionError(op, fmt.Errorf("failed to create database connection: %w", err))
	}
	return sqlDB, wrap(sqlDB), nil
}

func configureConnectionPool(t types.DatabaseType, sqlDB *sql.DB, cc ConnectionConfig) {
	if t == types.SQLite {
		// One connection keeps ":memory:" databases alive and serializes writers.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return
	}
	sqlDB.SetMaxIdleConns(cc.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cc.MaxPoolSize)
	sqlDB.SetConnMaxLifetime(cc.ConnMaxLifetime)
}

// sqlDriver stores documents in a single table of a relational database.
type sqlDriver struct {
	cfg    *DatabaseEndpointConfig
	db     *bun.DB
	logger Logger
	mu     sync.Mutex
	closed bool
}

func openSQLDriver(ctx context.Context, cfg *DatabaseEndpointConfig, logger Logger) (Driver, error) {
	db, err := OpenSQLDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	mm := NewMigrationManager(db, logger, DocumentMigrations()...)
	if err := mm.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, ConnectionError("open sql", fmt.Errorf("failed to run database migrations: %w", err))
	}
	return &sqlDriver{cfg: cfg, db: db, logger: logger}, nil
}

func (d *sqlDriver) Type() types.DatabaseType { return d.cfg.Type() }

func (d *sqlDriver) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *sqlDriver) NewSession(context.Context) (SessionHandle, error) {
	return &sqlSession{db: d.db}, nil
}

func (d *sqlDriver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.db.Close()
	if err != nil {
		d.logger.Error("Failed to close database connection", "error", err)
	} else {
		d.logger.Info("Database connection closed", "type", d.cfg.Type())
	}
	return err
}

// sqlSession owns at most one bun.Tx. Statements outside a transaction run
// in a short transaction of their own.
type sqlSession struct {
	db *bun.DB
	mu sync.Mutex
	tx *bun.Tx
}

func (s *sqlSession) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fmt.Errorf("transaction already in progress")
	}
	// The transaction outlives the call that starts it; ctx only carries values.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return err
	}
	s.tx = &tx
	return nil
}

func (s *sqlSession) CommitTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("no transaction in progress")
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

func (s *sqlSession) AbortTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("no transaction in progress")
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback()
}

// Ping checks the connection the session would use next. While a
// transaction is open it holds a connection, which on SQLite is the only one.
func (s *sqlSession) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		_, err := s.tx.ExecContext(ctx, "SELECT 1")
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *sqlSession) Collection(name string) CollectionHandle {
	return newEmbeddedCollection(name, s)
}

func (s *sqlSession) End(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !strings.Contains(err.Error(), sql.ErrTxDone.Error()) {
		return err
	}
	return nil
}

func (s *sqlSession) run(ctx context.Context, fn func(ctx context.Context, tx docTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fn(ctx, &sqlView{idb: *s.tx})
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &sqlView{idb: tx})
	})
}
