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
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoFilterTranslation(t *testing.T) {
	f := types.And(
		types.Eq("status", "open"),
		types.Or(types.Gt("qty", 5), types.In("tags", "a", "b")),
		types.Exists("deleted", false),
	)
	q, err := MongoFilter(f)
	require.NoError(t, err)
	want := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "status", Value: bson.D{{Key: "$eq", Value: "open"}}}},
		bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "qty", Value: bson.D{{Key: "$gt", Value: 5}}}},
			bson.D{{Key: "tags", Value: bson.D{{Key: "$in", Value: bson.A{"a", "b"}}}}},
		}}},
		bson.D{{Key: "deleted", Value: bson.D{{Key: "$exists", Value: false}}}},
	}}}
	assert.Equal(t, want, q)

	q, err = MongoFilter(types.All())
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, q)

	_, err = MongoFilter(types.Gt("", 1))
	assert.Error(t, err)
}

func TestMongoUpdateGroupsOperators(t *testing.T) {
	u := types.NewUpdate().Set("a", 1).Inc("n", 2).Set("b.c", "x").Unset("old")
	doc, err := MongoUpdate(u)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "a", Value: 1}, {Key: "b.c", Value: "x"}}},
		{Key: "$inc", Value: bson.D{{Key: "n", Value: 2}}},
		{Key: "$unset", Value: bson.D{{Key: "old", Value: ""}}},
	}, doc)

	_, err = MongoUpdate(types.NewUpdate())
	assert.Error(t, err)
}

func TestMongoSort(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: -1}},
		MongoSort([]types.SortField{types.Asc("a"), types.Desc("b")}))
}

// Runs against a real replica set when DOCSTORE_TEST_MONGO_HOSTS is set,
// e.g. "localhost:27017"; transactions need a replica set.
func TestMongoCollectionContract(t *testing.T) {
	hosts := os.Getenv("DOCSTORE_TEST_MONGO_HOSTS")
	if hosts == "" {
		t.Skip("DOCSTORE_TEST_MONGO_HOSTS not set")
	}
	cfg := &DatabaseEndpointConfig{
		DatabaseName: "docstore_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		DatabaseType: types.MongoDB,
		Hosts:        strings.Split(hosts, ","),
		User:         os.Getenv("DOCSTORE_TEST_MONGO_USER"),
		Password:     os.Getenv("DOCSTORE_TEST_MONGO_PASSWORD"),
	}
	collectionContract(t, openSession(t, cfg))
}
