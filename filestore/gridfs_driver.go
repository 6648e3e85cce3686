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

package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type gridFSDriver struct {
	client *mongo.Client
	db     *mongo.Database
}

func openGridFSDriver(ctx context.Context, cfg *database.DatabaseEndpointConfig, logger database.Logger) (fileDriver, error) {
	if cfg.DatabaseName == "" {
		return nil, database.ConfigurationError("open gridfs", errors.New("database name is required"))
	}
	client, err := database.ConnectMongo(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &gridFSDriver{client: client, db: client.Database(cfg.DatabaseName)}, nil
}

// bucket returns a bucket bound to the deadline of ctx. Buckets are cheap and
// carry their deadlines, so one is built per call.
func (d *gridFSDriver) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(d.db)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := b.SetReadDeadline(dl); err != nil {
			return nil, err
		}
		if err := b.SetWriteDeadline(dl); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (d *gridFSDriver) upload(ctx context.Context, rec fileRecord, r io.Reader) (int64, error) {
	b, err := d.bucket(ctx)
	if err != nil {
		return 0, err
	}
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "mimeType", Value: rec.MIMEType}})
	stream, err := b.OpenUploadStreamWithID(rec.ID, rec.Name, opts)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(stream, r)
	if err != nil {
		_ = stream.Abort()
		return 0, err
	}
	if err := stream.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *gridFSDriver) download(ctx context.Context, id primitive.ObjectID, w io.Writer) (fileRecord, error) {
	b, err := d.bucket(ctx)
	if err != nil {
		return fileRecord{}, err
	}
	stream, err := b.OpenDownloadStream(id)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return fileRecord{}, errFileNotFound
	}
	if err != nil {
		return fileRecord{}, err
	}
	defer func() { _ = stream.Close() }()

	rec := gridFSRecord(stream.GetFile())
	if _, err := io.Copy(w, stream); err != nil {
		return fileRecord{}, err
	}
	return rec, nil
}

func (d *gridFSDriver) delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	b, err := d.bucket(ctx)
	if err != nil {
		return false, err
	}
	err = b.DeleteContext(ctx, id)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *gridFSDriver) rename(ctx context.Context, id primitive.ObjectID, name string) (bool, error) {
	b, err := d.bucket(ctx)
	if err != nil {
		return false, err
	}
	err = b.RenameContext(ctx, id, name)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *gridFSDriver) find(ctx context.Context, filter types.Filter) ([]fileRecord, error) {
	q, err := database.MongoFilter(filter)
	if err != nil {
		return nil, err
	}
	b, err := d.bucket(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := b.FindContext(ctx, q, options.GridFSFind().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var files []gridfs.File
	if err := cur.All(ctx, &files); err != nil {
		return nil, err
	}
	recs := make([]fileRecord, 0, len(files))
	for i := range files {
		recs = append(recs, gridFSRecord(&files[i]))
	}
	return recs, nil
}

func (d *gridFSDriver) close(ctx context.Context) error { return d.client.Disconnect(ctx) }

func gridFSRecord(f *gridfs.File) fileRecord {
	rec := fileRecord{Name: f.Name, Length: f.Length, UploadedAt: f.UploadDate.UTC()}
	switch id := f.ID.(type) {
	case primitive.ObjectID:
		rec.ID = id
	default:
		// files written by other tools may use any _id type
		rec.ID, _ = primitive.ObjectIDFromHex(fmt.Sprint(id))
	}
	if f.Metadata != nil {
		if v, err := f.Metadata.LookupErr("mimeType"); err == nil {
			rec.MIMEType, _ = v.StringValueOK()
		}
	}
	return rec
}
