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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

func memoryConfig(t *testing.T) *DatabaseEndpointConfig {
	t.Helper()
	cfg := &DatabaseEndpointConfig{
		DatabaseName: "test_" + uuid.NewString(),
		DatabaseType: types.Memory,
		Hosts:        []string{"local"},
	}
	t.Cleanup(func() { DropMemoryDatabase(cfg) })
	return cfg
}

func sqliteConfig(t *testing.T) *DatabaseEndpointConfig {
	t.Helper()
	return &DatabaseEndpointConfig{
		DatabaseName: "test",
		DatabaseType: types.SQLite,
		Hosts:        []string{"file:" + uuid.NewString() + "?mode=memory&cache=shared"},
	}
}

func openSession(t *testing.T, cfg *DatabaseEndpointConfig) *Session {
	t.Helper()
	s, err := Open(context.Background(), cfg, WithLogger(NopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func mustRaw(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), &DatabaseEndpointConfig{DatabaseType: types.Memory})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = Open(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestTransactionStateMachine(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, memoryConfig(t))
	assert.Equal(t, TxNotStarted, s.TxState())

	err := s.CommitTransaction(ctx)
	assert.True(t, errors.Is(err, ErrInvalidState), "commit before start: %v", err)
	err = s.AbortTransaction(ctx)
	assert.True(t, errors.Is(err, ErrInvalidState), "abort before start: %v", err)

	require.NoError(t, s.StartTransaction(ctx))
	assert.Equal(t, TxActive, s.TxState())
	err = s.StartTransaction(ctx)
	assert.True(t, errors.Is(err, ErrInvalidState), "double start: %v", err)

	require.NoError(t, s.CommitTransaction(ctx))
	assert.Equal(t, TxCommitted, s.TxState())
	assert.True(t, errors.Is(s.CommitTransaction(ctx), ErrInvalidState))

	require.NoError(t, s.StartTransaction(ctx))
	require.NoError(t, s.AbortTransaction(ctx))
	assert.Equal(t, TxAborted, s.TxState())
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memoryConfig(t), WithLogger(NopLogger()))
	require.NoError(t, err)
	require.NoError(t, s.StartTransaction(ctx))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, TxAborted, s.TxState())

	_, err = s.Collection("orders")
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.True(t, errors.Is(s.StartTransaction(ctx), ErrInvalidState))
	assert.True(t, errors.Is(s.Ping(ctx), ErrInvalidState))
	assert.False(t, s.HealthCheck(ctx).Healthy)
}

func TestCollectionHandleFailsAfterClose(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memoryConfig(t), WithLogger(NopLogger()))
	require.NoError(t, err)
	coll, err := s.Collection("orders")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	_, err = coll.Count(ctx, types.All())
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestMemoryTransactionIsolationAndRollback(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	writer := openSession(t, cfg)
	reader := openSession(t, cfg)

	wc, err := writer.Collection("orders")
	require.NoError(t, err)
	rc, err := reader.Collection("orders")
	require.NoError(t, err)

	require.NoError(t, writer.StartTransaction(ctx))
	require.NoError(t, wc.InsertOne(ctx, mustRaw(t, bson.M{"_id": "a", "qty": 1})))

	n, err := rc.Count(ctx, types.All())
	require.NoError(t, err)
	assert.Zero(t, n, "uncommitted insert must not be visible")

	require.NoError(t, writer.AbortTransaction(ctx))
	n, err = wc.Count(ctx, types.All())
	require.NoError(t, err)
	assert.Zero(t, n)

	err = writer.WithTransaction(ctx, func(ctx context.Context) error {
		return wc.InsertOne(ctx, mustRaw(t, bson.M{"_id": "b", "qty": 2}))
	})
	require.NoError(t, err)
	n, err = rc.Count(ctx, types.All())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryCommitRejectsKeyInsertedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	txn := openSession(t, cfg)
	other := openSession(t, cfg)
	tc, err := txn.Collection("people")
	require.NoError(t, err)
	oc, err := other.Collection("people")
	require.NoError(t, err)

	require.NoError(t, txn.StartTransaction(ctx))
	require.NoError(t, oc.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: 7}, {Key: "by", Value: "B"}})))
	require.NoError(t, tc.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: 7}, {Key: "by", Value: "A"}})),
		"the snapshot predates B's insert")

	err = txn.CommitTransaction(ctx)
	assert.True(t, errors.Is(err, ErrWrite), "duplicate key at commit: %v", err)
	assert.False(t, errors.Is(err, ErrWriteConflict))
	assert.Equal(t, TxAborted, txn.TxState())

	docs, err := oc.Find(ctx, types.All(), FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "B", docs[0].Lookup("by").StringValue())
}

func TestMemoryCommitRejectsConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	txn := openSession(t, cfg)
	other := openSession(t, cfg)
	tc, err := txn.Collection("counters")
	require.NoError(t, err)
	oc, err := other.Collection("counters")
	require.NoError(t, err)
	require.NoError(t, oc.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: "c"}, {Key: "n", Value: 0}})))

	inc := types.NewUpdate().Inc("n", 1)
	require.NoError(t, txn.StartTransaction(ctx))
	res, err := oc.UpdateMany(ctx, types.Eq("_id", "c"), inc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Modified)
	res, err = tc.UpdateMany(ctx, types.Eq("_id", "c"), inc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Modified)

	err = txn.CommitTransaction(ctx)
	assert.True(t, errors.Is(err, ErrWrite), "stale write at commit: %v", err)
	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.Equal(t, TxAborted, txn.TxState())

	counter := func() int64 {
		docs, err := oc.Find(ctx, types.Eq("_id", "c"), FindOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		return docs[0].Lookup("n").AsInt64()
	}
	assert.EqualValues(t, 1, counter())

	require.NoError(t, txn.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := tc.UpdateMany(ctx, types.Eq("_id", "c"), inc)
		return err
	}))
	assert.EqualValues(t, 2, counter(), "a retried transaction sees the other increment")
}

func TestMemoryCommitAfterUnrelatedWrites(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	txn := openSession(t, cfg)
	other := openSession(t, cfg)
	tc, err := txn.Collection("docs")
	require.NoError(t, err)
	oc, err := other.Collection("docs")
	require.NoError(t, err)

	require.NoError(t, txn.StartTransaction(ctx))
	require.NoError(t, oc.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: "x"}})))
	require.NoError(t, tc.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: "y"}})))
	require.NoError(t, txn.CommitTransaction(ctx))

	n, err := oc.Count(ctx, types.All())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestWithTransactionAbortsOnErrorAndPanic(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, memoryConfig(t))
	coll, err := s.Collection("events")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, coll.InsertOne(ctx, mustRaw(t, bson.M{"k": 1})))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, TxAborted, s.TxState())

	assert.Panics(t, func() {
		_ = s.WithTransaction(ctx, func(ctx context.Context) error {
			_ = coll.InsertOne(ctx, mustRaw(t, bson.M{"k": 2}))
			panic("kaboom")
		})
	})
	assert.Equal(t, TxAborted, s.TxState())

	n, err := coll.Count(ctx, types.All())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// collectionContract runs the same CRUD expectations against any backend.
func collectionContract(t *testing.T, s *Session) {
	ctx := context.Background()
	coll, err := s.Collection("items")
	require.NoError(t, err)

	require.NoError(t, coll.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "a"}, {Key: "qty", Value: 1}})))
	require.NoError(t, coll.InsertMany(ctx, []bson.Raw{
		mustRaw(t, bson.D{{Key: "name", Value: "b"}, {Key: "qty", Value: 2}}),
		mustRaw(t, bson.D{{Key: "name", Value: "c"}, {Key: "qty", Value: 3}}),
	}))

	err = coll.InsertOne(ctx, mustRaw(t, bson.D{{Key: "_id", Value: int64(1)}, {Key: "name", Value: "dup"}}))
	assert.True(t, errors.Is(err, ErrWrite), "duplicate _id: %v", err)

	docs, err := coll.Find(ctx, types.Gte("qty", 2), FindOptions{Sort: []types.SortField{types.Desc("qty")}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c", docs[0].Lookup("name").StringValue())
	assert.NotEqual(t, bson.TypeNull, docs[0].Lookup("_id").Type, "generated _id")

	docs, err = coll.Find(ctx, types.All(), FindOptions{Sort: []types.SortField{types.Asc("name")}, Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].Lookup("name").StringValue())

	res, err := coll.UpdateMany(ctx, types.Lte("qty", 2), types.NewUpdate().Inc("qty", 10))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 2, Modified: 2}, res)

	res, err = coll.ReplaceOne(ctx, types.Eq("name", "c"), mustRaw(t, bson.D{{Key: "name", Value: "c"}, {Key: "qty", Value: 30}}))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 1}, res)

	res, err = coll.ReplaceOne(ctx, types.Eq("name", "c"), mustRaw(t, bson.D{{Key: "name", Value: "c"}, {Key: "qty", Value: 30}}))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 0}, res, "identical replacement")

	_, err = coll.ReplaceOne(ctx, types.Eq("name", "c"), mustRaw(t, bson.D{{Key: "_id", Value: "other"}, {Key: "name", Value: "c"}}))
	assert.True(t, errors.Is(err, ErrWrite), "altering _id: %v", err)

	res, err = coll.ReplaceOne(ctx, types.Eq("name", "zzz"), mustRaw(t, bson.D{{Key: "name", Value: "zzz"}}))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{}, res)

	n, err := coll.Count(ctx, types.Gt("qty", 10))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	deleted, err := coll.DeleteMany(ctx, types.All())
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
	n, err = coll.Count(ctx, types.All())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryCollectionContract(t *testing.T) {
	collectionContract(t, openSession(t, memoryConfig(t)))
}

func TestSQLiteCollectionContract(t *testing.T) {
	collectionContract(t, openSession(t, sqliteConfig(t)))
}

func TestSQLiteTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, sqliteConfig(t))
	coll, err := s.Collection("ledger")
	require.NoError(t, err)

	require.NoError(t, s.StartTransaction(ctx))
	require.NoError(t, coll.InsertOne(ctx, mustRaw(t, bson.M{"amount": 10})))
	n, err := coll.Count(ctx, types.All())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "a transaction sees its own writes")
	require.NoError(t, s.AbortTransaction(ctx))

	n, err = coll.Count(ctx, types.All())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context) error {
		return coll.InsertOne(ctx, mustRaw(t, bson.M{"amount": 20}))
	}))
	n, err = coll.Count(ctx, types.Eq("amount", 20))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHealthCheck(t *testing.T) {
	s := openSession(t, memoryConfig(t))
	status := s.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.Equal(t, "Memory", status.DatabaseType)
}

func TestDriverFactorySupportedTypes(t *testing.T) {
	f := NewDriverFactory(NopLogger())
	assert.Equal(t, types.DatabaseTypes(), f.SupportedTypes())
}
