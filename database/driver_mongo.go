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

	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongo connects a client to the endpoint and pings the primary.
func ConnectMongo(ctx context.Context, cfg *DatabaseEndpointConfig, logger Logger) (*mongo.Client, error) {
	const op = "connect mongo"
	if logger == nil {
		logger = GetLogger()
	}
	uri, err := BuildConnectionString(cfg)
	if err != nil {
		return nil, err
	}
	cc := cfg.Connection.withDefaults()

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(cc.ConnectTimeout).
		SetServerSelectionTimeout(cc.ConnectTimeout).
		SetMaxPoolSize(uint64(cc.MaxPoolSize))
	if cc.EnableQueryLog || cc.SlowQueryTime > 0 {
		opts.SetMonitor(newCommandMonitor(cc, logger, nil))
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, ConnectionError(op, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cc.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, ConnectionError(op, fmt.Errorf("database connection test failed: %w", err))
	}
	logger.Info("Database connected successfully", "type", types.MongoDB, "hosts", cfg.Hosts, "database", cfg.DatabaseName)
	return client, nil
}

type mongoDriver struct {
	client *mongo.Client
	db     *mongo.Database
	logger Logger
}

func openMongoDriver(ctx context.Context, cfg *DatabaseEndpointConfig, logger Logger) (Driver, error) {
	if cfg.DatabaseName == "" {
		return nil, ConfigurationError("connect mongo", errors.New("database name is required"))
	}
	client, err := ConnectMongo(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &mongoDriver{client: client, db: client.Database(cfg.DatabaseName), logger: logger}, nil
}

func (d *mongoDriver) Type() types.DatabaseType { return types.MongoDB }

func (d *mongoDriver) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.PrimaryPreferred())
}

func (d *mongoDriver) NewSession(context.Context) (SessionHandle, error) {
	sess, err := d.client.StartSession()
	if err != nil {
		return nil, err
	}
	return &mongoSession{sess: sess, db: d.db}, nil
}

func (d *mongoDriver) Close(ctx context.Context) error {
	err := d.client.Disconnect(ctx)
	if err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		d.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	d.logger.Info("Database connection closed", "type", types.MongoDB)
	return nil
}

type mongoSession struct {
	sess mongo.Session
	db   *mongo.Database
}

func (s *mongoSession) StartTransaction(context.Context) error { return s.sess.StartTransaction() }

func (s *mongoSession) CommitTransaction(ctx context.Context) error {
	return s.sess.CommitTransaction(ctx)
}

func (s *mongoSession) AbortTransaction(ctx context.Context) error {
	return s.sess.AbortTransaction(ctx)
}

func (s *mongoSession) Collection(name string) CollectionHandle {
	return &mongoCollection{coll: s.db.Collection(name), sess: s.sess}
}

func (s *mongoSession) End(ctx context.Context) error {
	s.sess.EndSession(ctx)
	return nil
}

// mongoCollection runs every operation under the owning session so that it
// joins the session transaction when one is active.
type mongoCollection struct {
	coll *mongo.Collection
	sess mongo.Session
}

func (c *mongoCollection) ctx(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, c.sess)
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc bson.Raw) error {
	_, err := c.coll.InsertOne(c.ctx(ctx), doc)
	return err
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []bson.Raw) error {
	if len(docs) == 0 {
		return nil
	}
	items := make([]interface{}, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	_, err := c.coll.InsertMany(c.ctx(ctx), items)
	return err
}

func (c *mongoCollection) Find(ctx context.Context, filter types.Filter, opts FindOptions) ([]bson.Raw, error) {
	q, err := MongoFilter(filter)
	if err != nil {
		return nil, err
	}
	fo := options.Find()
	if len(opts.Sort) > 0 {
		fo.SetSort(MongoSort(opts.Sort))
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	sctx := c.ctx(ctx)
	cur, err := c.coll.Find(sctx, q, fo)
	if err != nil {
		return nil, err
	}
	defer cur.Close(sctx)

	var out []bson.Raw
	for cur.Next(sctx) {
		out = append(out, append(bson.Raw(nil), cur.Current...))
	}
	return out, cur.Err()
}

func (c *mongoCollection) UpdateMany(ctx context.Context, filter types.Filter, update types.Update) (UpdateResult, error) {
	q, err := MongoFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	u, err := MongoUpdate(update)
	if err != nil {
		return UpdateResult{}, WriteError("update "+c.coll.Name(), err)
	}
	res, err := c.coll.UpdateMany(c.ctx(ctx), q, u)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (c *mongoCollection) ReplaceOne(ctx context.Context, filter types.Filter, doc bson.Raw) (UpdateResult, error) {
	q, err := MongoFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	res, err := c.coll.ReplaceOne(c.ctx(ctx), q, doc)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter types.Filter) (int64, error) {
	q, err := MongoFilter(filter)
	if err != nil {
		return 0, err
	}
	res, err := c.coll.DeleteMany(c.ctx(ctx), q)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) Count(ctx context.Context, filter types.Filter) (int64, error) {
	q, err := MongoFilter(filter)
	if err != nil {
		return 0, err
	}
	return c.coll.CountDocuments(c.ctx(ctx), q)
}

// MongoFilter translates a filter into a MongoDB query document.
func MongoFilter(f types.Filter) (bson.D, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return mongoFilter(f), nil
}

func mongoFilter(f types.Filter) bson.D {
	switch {
	case f.IsAll():
		return bson.D{}
	case f.IsLogical():
		children := make(bson.A, len(f.Children))
		for i, c := range f.Children {
			children[i] = mongoFilter(c)
		}
		return bson.D{{Key: string(f.Op), Value: children}}
	case f.Op == types.OpIn || f.Op == types.OpNin:
		return bson.D{{Key: f.Field, Value: bson.D{{Key: string(f.Op), Value: bson.A(f.Values())}}}}
	default:
		return bson.D{{Key: f.Field, Value: bson.D{{Key: string(f.Op), Value: f.Value}}}}
	}
}

// MongoUpdate translates an update into a MongoDB update document, grouping
// operations by operator in first-use order.
func MongoUpdate(u types.Update) (bson.D, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	var out bson.D
	index := map[types.UpdateOp]int{}
	for _, op := range u.Ops() {
		i, ok := index[op.Op]
		if !ok {
			i = len(out)
			index[op.Op] = i
			out = append(out, bson.E{Key: string(op.Op), Value: bson.D{}})
		}
		value := op.Value
		if op.Op == types.UpdateUnset {
			value = ""
		}
		out[i].Value = append(out[i].Value.(bson.D), bson.E{Key: op.Field, Value: value})
	}
	return out, nil
}

// MongoSort translates sort fields into a MongoDB sort document.
func MongoSort(fields []types.SortField) bson.D {
	out := make(bson.D, 0, len(fields))
	for _, sf := range fields {
		dir := 1
		if sf.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: sf.Field, Value: dir})
	}
	return out
}
