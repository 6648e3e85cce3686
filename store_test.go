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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/filestore"
	"github.com/tomoncle/docstore/repository"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SystemConfig struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ConfigKey   string             `bson:"config_key"`
	ConfigValue string             `bson:"config_value"`
	Description string             `bson:"description,omitempty"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

var systemConfigShape = repository.NewShape[SystemConfig]("system_config", repository.WithStrictFields())

func endpoint(t *testing.T, dbType types.DatabaseType) *database.DatabaseEndpointConfig {
	t.Helper()
	switch dbType {
	case types.SQLite:
		return &database.DatabaseEndpointConfig{
			DatabaseName: "test",
			DatabaseType: types.SQLite,
			Hosts:        []string{"file:" + uuid.NewString() + "?mode=memory&cache=shared"},
		}
	default:
		cfg := &database.DatabaseEndpointConfig{
			DatabaseName: "test_" + uuid.NewString(),
			DatabaseType: types.Memory,
			Hosts:        []string{"local"},
		}
		t.Cleanup(func() {
			database.DropMemoryDatabase(cfg)
			filestore.DropMemoryFiles(cfg)
		})
		return cfg
	}
}

func openStore(t *testing.T, cfg *database.DatabaseEndpointConfig, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(database.NopLogger())}, opts...)
	s, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestServiceLifecycle(t *testing.T) {
	for _, dbType := range []types.DatabaseType{types.Memory, types.SQLite} {
		t.Run(dbType.String(), func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, endpoint(t, dbType), WithMetrics(prometheus.NewRegistry()))
			svc := NewService[SystemConfig](store, systemConfigShape)

			now := time.Now().UTC().Truncate(time.Millisecond)
			require.NoError(t, svc.Save(ctx,
				SystemConfig{ConfigKey: "site.name", ConfigValue: "docstore", UpdatedAt: now},
				SystemConfig{ConfigKey: "site.theme", ConfigValue: "dark", UpdatedAt: now},
			))
			require.NoError(t, svc.Save(ctx, SystemConfig{ConfigKey: "mail.host", ConfigValue: "smtp", UpdatedAt: now}))

			all, err := svc.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			site, err := svc.List(ctx, types.In("config_key", "site.name", "site.theme"))
			require.NoError(t, err)
			assert.Len(t, site, 2)

			matched, err := svc.Update(ctx, types.Eq("config_key", "site.theme"), types.NewUpdate().Set("config_value", "light"))
			require.NoError(t, err)
			assert.EqualValues(t, 1, matched)

			err = svc.Replace(ctx, types.Eq("config_key", "mail.host"),
				SystemConfig{ConfigKey: "mail.host", ConfigValue: "smtp.example.com", UpdatedAt: now})
			require.NoError(t, err)

			got, err := svc.List(ctx, types.Eq("config_key", "mail.host"))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "smtp.example.com", got[0].ConfigValue)
			assert.True(t, now.Equal(got[0].UpdatedAt))

			page, err := svc.Page(ctx, types.NewPageRequestWithOrders(1, 2, types.Asc("config_key")))
			require.NoError(t, err)
			assert.EqualValues(t, 3, page.Total)
			require.Len(t, page.Items, 2)
			assert.Equal(t, "mail.host", page.Items[0].ConfigKey)

			n, err := svc.Delete(ctx, types.Eq("config_key", "site.name"))
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
			n, err = svc.Count(ctx, types.All())
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)
		})
	}
}

func TestStoreTransaction(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, endpoint(t, types.Memory))
	svc := NewService[SystemConfig](store, systemConfigShape)

	require.NoError(t, store.StartTransaction(ctx))
	require.NoError(t, svc.Save(ctx, SystemConfig{ConfigKey: "draft"}))
	require.NoError(t, store.AbortTransaction(ctx))

	n, err := svc.Count(ctx, types.All())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.WithTransaction(ctx, func(ctx context.Context) error {
		return svc.Save(ctx, SystemConfig{ConfigKey: "published"})
	}))
	n, err = svc.Count(ctx, types.All())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.True(t, errors.Is(store.CommitTransaction(ctx), database.ErrInvalidState))
	assert.True(t, store.HealthCheck(ctx).Healthy)
	require.NoError(t, store.Ping(ctx))
}

func TestStoreCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, endpoint(t, types.Memory), WithLogger(database.NopLogger()))
	require.NoError(t, err)
	svc := NewService[SystemConfig](store, systemConfigShape)

	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.Close(ctx))
	_, err = svc.All(ctx)
	assert.True(t, errors.Is(err, database.ErrInvalidState))
}

func TestOpenFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docstore.yaml")
	name := "app_" + uuid.NewString()
	content := "databases:\n" +
		"  - database_name: " + name + "\n" +
		"    database_type: memory\n" +
		"    hosts: [\"local\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		database.DropMemoryDatabase(&database.DatabaseEndpointConfig{DatabaseName: name, Hosts: []string{"local"}})
	})

	store, err := OpenFromFile(context.Background(), path, types.Memory, name, WithLogger(database.NopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	assert.Equal(t, name, store.Session().Config().DatabaseName)

	_, err = OpenFromFile(context.Background(), path, types.MongoDB, "", WithLogger(database.NopLogger()))
	assert.True(t, errors.Is(err, database.ErrConfiguration))
}

func TestOpenFileStore(t *testing.T) {
	ctx := context.Background()
	fs, err := OpenFileStore(ctx, endpoint(t, types.Memory), filestore.WithLogger(database.NopLogger()))
	require.NoError(t, err)
	defer func() { _ = fs.Close(ctx) }()

	id, err := fs.Upload(ctx, "notes.md", []byte("# notes"))
	require.NoError(t, err)
	data, err := fs.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "md", data.Type)
}
