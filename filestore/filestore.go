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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChunkSize is the chunk size of the SQL backends. It stays below the 64 KiB
// limit of a MySQL BLOB column.
const ChunkSize = 48 * 1024

// sniffLen is how much of a stream is buffered for MIME detection.
const sniffLen = 3072

// FileInfo describes a stored blob.
type FileInfo struct {
	ID         string
	Name       string
	Type       string
	MIMEType   string
	Length     int64
	UploadedAt time.Time
}

// FileData is a downloaded blob with its content.
type FileData struct {
	FileInfo
	Bytes []byte
}

// fileRecord is what drivers store next to the content.
type fileRecord struct {
	ID         primitive.ObjectID
	Name       string
	MIMEType   string
	Length     int64
	UploadedAt time.Time
}

func (r fileRecord) info() FileInfo {
	return FileInfo{
		ID:         r.ID.Hex(),
		Name:       r.Name,
		Type:       FileType(r.Name),
		MIMEType:   r.MIMEType,
		Length:     r.Length,
		UploadedAt: r.UploadedAt,
	}
}

// fileDriver stores blobs for one backend. Missing files are reported with
// found == false or errFileNotFound; FileStore turns them into NotFoundError.
type fileDriver interface {
	upload(ctx context.Context, rec fileRecord, r io.Reader) (int64, error)
	download(ctx context.Context, id primitive.ObjectID, w io.Writer) (fileRecord, error)
	delete(ctx context.Context, id primitive.ObjectID) (bool, error)
	rename(ctx context.Context, id primitive.ObjectID, name string) (bool, error)
	find(ctx context.Context, filter types.Filter) ([]fileRecord, error)
	close(ctx context.Context) error
}

var errFileNotFound = errors.New("file not found")

type storeConfig struct {
	logger database.Logger
}

// Option configures a FileStore.
type Option func(*storeConfig)

func WithLogger(l database.Logger) Option {
	return func(c *storeConfig) { c.logger = l }
}

// FileStore uploads, downloads, renames and deletes blobs. It opens its own
// connection and never joins a session transaction.
type FileStore struct {
	driver fileDriver
	dbType types.DatabaseType
	logger database.Logger

	mu     sync.RWMutex
	closed bool
}

// Open connects a FileStore to the endpoint: GridFS for MongoDB, chunk
// tables for SQL databases, a process-local store for Memory.
func Open(ctx context.Context, cfg *database.DatabaseEndpointConfig, opts ...Option) (*FileStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := storeConfig{logger: database.GetLogger()}
	for _, opt := range opts {
		opt(&sc)
	}

	var (
		drv fileDriver
		err error
	)
	switch cfg.Type() {
	case types.MongoDB:
		drv, err = openGridFSDriver(ctx, cfg, sc.logger)
	case types.PostgreSQL, types.MySQL, types.SQLite:
		drv, err = openSQLFileDriver(ctx, cfg, sc.logger)
	case types.Memory:
		drv = openMemoryFileDriver(cfg)
	default:
		err = database.ConfigurationError("open file store", fmt.Errorf("unsupported database type: %s", cfg.DatabaseType))
	}
	if err != nil {
		if database.KindOf(err) == database.KindBackend {
			return nil, database.ConnectionError("open file store", err)
		}
		return nil, err
	}
	return &FileStore{driver: drv, dbType: cfg.Type(), logger: sc.logger}, nil
}

func (s *FileStore) Type() types.DatabaseType { return s.dbType }

// acquire holds the read lock for the duration of an operation so Close
// waits for in-flight calls.
func (s *FileStore) acquire(op string) (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, database.InvalidStateError(op, "file store is closed")
	}
	return s.mu.RUnlock, nil
}

// Upload stores data under name and returns the new identifier.
func (s *FileStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	return s.UploadStream(ctx, name, bytes.NewReader(data))
}

// UploadStream stores the content of r under name and returns the new
// identifier.
func (s *FileStore) UploadStream(ctx context.Context, name string, r io.Reader) (string, error) {
	const op = "upload file"
	release, err := s.acquire(op)
	if err != nil {
		return "", err
	}
	defer release()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", database.BackendError(op, err)
	}
	head = head[:n]

	rec := fileRecord{
		ID:         primitive.NewObjectID(),
		Name:       name,
		MIMEType:   mimetype.Detect(head).String(),
		UploadedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	length, err := s.driver.upload(ctx, rec, io.MultiReader(bytes.NewReader(head), r))
	if err != nil {
		return "", database.ClassifyWrite(op, err)
	}
	s.logger.Debug("File uploaded", "id", rec.ID.Hex(), "name", name, "length", length, "mime", rec.MIMEType)
	return rec.ID.Hex(), nil
}

// Download returns the blob identified by id with its metadata.
func (s *FileStore) Download(ctx context.Context, id string) (*FileData, error) {
	var buf bytes.Buffer
	rec, err := s.downloadTo(ctx, "download file", id, &buf)
	if err != nil {
		return nil, err
	}
	data := &FileData{FileInfo: rec.info(), Bytes: buf.Bytes()}
	if data.Bytes == nil {
		data.Bytes = []byte{}
	}
	if data.MIMEType == "" {
		data.MIMEType = mimetype.Detect(data.Bytes).String()
	}
	return data, nil
}

// DownloadTo streams the blob identified by id into w.
func (s *FileStore) DownloadTo(ctx context.Context, id string, w io.Writer) error {
	_, err := s.downloadTo(ctx, "download file", id, w)
	return err
}

func (s *FileStore) downloadTo(ctx context.Context, op, id string, w io.Writer) (fileRecord, error) {
	release, err := s.acquire(op)
	if err != nil {
		return fileRecord{}, err
	}
	defer release()

	oid, err := parseID(op, id)
	if err != nil {
		return fileRecord{}, err
	}
	rec, err := s.driver.download(ctx, oid, w)
	if errors.Is(err, errFileNotFound) {
		return fileRecord{}, database.NotFoundError(op, fmt.Errorf("file %s: %w", id, errFileNotFound))
	}
	if err != nil {
		return fileRecord{}, database.ClassifyRead(op, err)
	}
	return rec, nil
}

// Delete removes the blob identified by id. It reports false when no blob
// had that identifier, including when id is not a valid identifier at all;
// Download and Rename report NotFoundError for the same input.
func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	const op = "delete file"
	release, err := s.acquire(op)
	if err != nil {
		return false, err
	}
	defer release()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	deleted, err := s.driver.delete(ctx, oid)
	if err != nil {
		return false, database.ClassifyWrite(op, err)
	}
	if deleted {
		s.logger.Debug("File deleted", "id", id)
	}
	return deleted, nil
}

// Rename changes the stored name of the blob identified by id.
func (s *FileStore) Rename(ctx context.Context, id, newName string) error {
	const op = "rename file"
	release, err := s.acquire(op)
	if err != nil {
		return err
	}
	defer release()

	oid, err := parseID(op, id)
	if err != nil {
		return err
	}
	found, err := s.driver.rename(ctx, oid, newName)
	if err != nil {
		return database.ClassifyWrite(op, err)
	}
	if !found {
		return database.NotFoundError(op, fmt.Errorf("file %s: %w", id, errFileNotFound))
	}
	return nil
}

// Find lists the blobs matching filter. The filter addresses the stored
// fields _id, filename, length, uploadDate and metadata.mimeType.
func (s *FileStore) Find(ctx context.Context, filter types.Filter) ([]FileInfo, error) {
	const op = "find files"
	release, err := s.acquire(op)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := filter.Validate(); err != nil {
		return nil, database.BackendError(op, err)
	}
	recs, err := s.driver.find(ctx, filter)
	if err != nil {
		return nil, database.ClassifyRead(op, err)
	}
	out := make([]FileInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.info())
	}
	return out, nil
}

// Close releases the connection. Calling it again is a no-op.
func (s *FileStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.driver.close(ctx); err != nil {
		return database.BackendError("close file store", err)
	}
	return nil
}

// FileType returns the part of name after its first dot, or "" when the name
// has none: "archive.tar.gz" has type "tar.gz".
func FileType(name string) string {
	_, ext, _ := strings.Cut(name, ".")
	return ext
}

// filterRecords evaluates filter over the GridFS-style view of recs.
func filterRecords(filter types.Filter, recs []fileRecord) ([]fileRecord, error) {
	byID := make(map[primitive.ObjectID]fileRecord, len(recs))
	docs := make([]bson.Raw, 0, len(recs))
	for _, rec := range recs {
		raw, err := bson.Marshal(bson.D{
			{Key: "_id", Value: rec.ID},
			{Key: "filename", Value: rec.Name},
			{Key: "length", Value: rec.Length},
			{Key: "uploadDate", Value: rec.UploadedAt},
			{Key: "metadata", Value: bson.D{{Key: "mimeType", Value: rec.MIMEType}}},
		})
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
		docs = append(docs, raw)
	}
	found, err := database.FilterDocuments(filter, docs, database.FindOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]fileRecord, 0, len(found))
	for _, raw := range found {
		out = append(out, byID[raw.Lookup("_id").ObjectID()])
	}
	return out, nil
}

func parseID(op, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, database.NotFoundError(op, fmt.Errorf("file %q: %w", id, errFileNotFound))
	}
	return oid, nil
}
