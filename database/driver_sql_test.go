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
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/docstore/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSelectDocumentsLocksRowsForWrites(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		dialect schema.Dialect
		locks   bool
	}{
		{"postgres", "postgres", "postgres://docstore@localhost:5432/docstore?sslmode=disable", pgdialect.New(), true},
		{"mysql", "mysql", "docstore@tcp(localhost:3306)/docstore", mysqldialect.New(), true},
		{"sqlite", sqliteshim.ShimName, "file::memory:", sqlitedialect.New(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlDB, err := sql.Open(tt.driver, tt.dsn)
			require.NoError(t, err)
			db := bun.NewDB(sqlDB, tt.dialect)
			t.Cleanup(func() { _ = db.Close() })

			var rows []DocumentRow
			read := selectDocuments(db, &rows, "orders", false).String()
			assert.NotContains(t, read, "FOR UPDATE")

			write := selectDocuments(db, &rows, "orders", true).String()
			assert.Equal(t, tt.locks, strings.HasSuffix(write, " FOR UPDATE"), write)
		})
	}
}

func TestSQLitePingDuringTransaction(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, sqliteConfig(t))
	require.NoError(t, s.StartTransaction(ctx))

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Ping(pingCtx))
	assert.Less(t, time.Since(start), time.Second)

	status := s.HealthCheck(ctx)
	assert.True(t, status.Healthy, status.LastError)

	require.NoError(t, s.AbortTransaction(ctx))
	require.NoError(t, s.Ping(ctx))
}

func TestSQLiteTransactionOutlivesStartContext(t *testing.T) {
	s := openSession(t, sqliteConfig(t))
	coll, err := s.Collection("ledger")
	require.NoError(t, err)

	startCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.StartTransaction(startCtx))
	cancel()

	ctx := context.Background()
	require.NoError(t, coll.InsertOne(ctx, mustRaw(t, bson.M{"amount": 5})))
	require.NoError(t, s.CommitTransaction(ctx))
	assert.Equal(t, TxCommitted, s.TxState())

	n, err := coll.Count(ctx, types.All())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPostgresConcurrentIncrements(t *testing.T) {
	host := os.Getenv("DOCSTORE_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("DOCSTORE_TEST_POSTGRES_HOST not set")
	}
	ctx := context.Background()
	cfg := &DatabaseEndpointConfig{
		DatabaseName: os.Getenv("DOCSTORE_TEST_POSTGRES_DB"),
		DatabaseType: types.PostgreSQL,
		Hosts:        []string{host},
		User:         os.Getenv("DOCSTORE_TEST_POSTGRES_USER"),
		Password:     os.Getenv("DOCSTORE_TEST_POSTGRES_PASSWORD"),
	}
	driver, err := NewDriverFactory(NopLogger()).CreateFromConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close(ctx) })

	name := "counters_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	seed, err := Open(ctx, cfg, WithDriver(driver), WithLogger(NopLogger()))
	require.NoError(t, err)
	defer func() { _ = seed.Close(ctx) }()
	coll, err := seed.Collection(name)
	require.NoError(t, err)
	require.NoError(t, coll.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: "c"}, {Key: "n", Value: 0}})))
	defer func() { _, _ = coll.DeleteMany(ctx, types.All()) }()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := Open(ctx, cfg, WithDriver(driver), WithLogger(NopLogger()))
			if err != nil {
				errs <- err
				return
			}
			defer func() { _ = s.Close(ctx) }()
			c, err := s.Collection(name)
			if err != nil {
				errs <- err
				return
			}
			_, err = c.UpdateMany(ctx, types.Eq("_id", "c"), types.NewUpdate().Inc("n", 1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	docs, err := coll.Find(ctx, types.Eq("_id", "c"), FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.EqualValues(t, workers, docs[0].Lookup("n").AsInt64())
}
