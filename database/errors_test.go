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
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	cause := errors.New("driver exploded")
	err := ClassifyRead("find orders", cause)
	assert.True(t, errors.Is(err, ErrBackend))
	assert.False(t, errors.Is(err, ErrWrite))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "find orders: backend error: driver exploded", err.Error())

	wrapped := fmt.Errorf("service: %w", NotFoundError("download", cause))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindBackend, KindOf(cause))
}

func TestClassifyWriteRecognizesRejections(t *testing.T) {
	mongoDup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.True(t, errors.Is(ClassifyWrite("insert", mongoDup), ErrWrite))

	mysqlDup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.True(t, errors.Is(ClassifyWrite("insert", mysqlDup), ErrWrite))

	sqliteDup := errors.New("constraint failed: UNIQUE constraint failed: docstore_documents.collection, docstore_documents.id (1555)")
	assert.True(t, errors.Is(ClassifyWrite("insert", sqliteDup), ErrWrite))

	pgDup := errors.New(`pq: duplicate key value violates unique constraint "docstore_documents_pkey"`)
	assert.True(t, errors.Is(ClassifyWrite("insert", pgDup), ErrWrite))

	timeout := errors.New("i/o timeout")
	assert.True(t, errors.Is(ClassifyWrite("insert", timeout), ErrBackend))

	already := InvalidStateError("insert", "session is closed")
	assert.Same(t, already, ClassifyWrite("insert", already))
	assert.Nil(t, ClassifyWrite("insert", nil))
}

func TestIsSqlError(t *testing.T) {
	is, code := IsSqlError(&mysql.MySQLError{Number: 1146})
	assert.True(t, is)
	assert.Equal(t, NoTableErr, code)

	is, code = IsSqlError(errors.New("SQL logic error: no such table: docstore_documents (1)"))
	assert.True(t, is)
	assert.Equal(t, NoTableErr, code)

	is, _ = IsSqlError(nil)
	assert.False(t, is)
}
