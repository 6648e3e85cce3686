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
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	memoryBuckets   = map[string]*memoryBucket{}
	memoryBucketsMu sync.Mutex
)

func bucketKey(cfg *database.DatabaseEndpointConfig) string {
	return strings.Join(cfg.Hosts, ",") + "/" + cfg.DatabaseName
}

// DropMemoryFiles forgets every blob of the memory endpoint cfg.
func DropMemoryFiles(cfg *database.DatabaseEndpointConfig) {
	memoryBucketsMu.Lock()
	defer memoryBucketsMu.Unlock()
	delete(memoryBuckets, bucketKey(cfg))
}

type memoryFile struct {
	rec  fileRecord
	data []byte
}

type memoryBucket struct {
	mu    sync.RWMutex
	files map[primitive.ObjectID]*memoryFile
}

func openMemoryFileDriver(cfg *database.DatabaseEndpointConfig) fileDriver {
	memoryBucketsMu.Lock()
	defer memoryBucketsMu.Unlock()
	b, ok := memoryBuckets[bucketKey(cfg)]
	if !ok {
		b = &memoryBucket{files: map[primitive.ObjectID]*memoryFile{}}
		memoryBuckets[bucketKey(cfg)] = b
	}
	return b
}

func (b *memoryBucket) upload(ctx context.Context, rec fileRecord, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec.Length = int64(len(data))
	b.mu.Lock()
	b.files[rec.ID] = &memoryFile{rec: rec, data: data}
	b.mu.Unlock()
	return rec.Length, nil
}

func (b *memoryBucket) download(ctx context.Context, id primitive.ObjectID, w io.Writer) (fileRecord, error) {
	b.mu.RLock()
	f, ok := b.files[id]
	var (
		rec  fileRecord
		data []byte
	)
	if ok {
		rec, data = f.rec, f.data
	}
	b.mu.RUnlock()
	if !ok {
		return fileRecord{}, errFileNotFound
	}
	if err := ctx.Err(); err != nil {
		return fileRecord{}, err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fileRecord{}, err
	}
	return rec, nil
}

func (b *memoryBucket) delete(_ context.Context, id primitive.ObjectID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[id]; !ok {
		return false, nil
	}
	delete(b.files, id)
	return true, nil
}

func (b *memoryBucket) rename(_ context.Context, id primitive.ObjectID, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[id]
	if !ok {
		return false, nil
	}
	rec := f.rec
	rec.Name = name
	b.files[id] = &memoryFile{rec: rec, data: f.data}
	return true, nil
}

func (b *memoryBucket) find(_ context.Context, filter types.Filter) ([]fileRecord, error) {
	b.mu.RLock()
	recs := make([]fileRecord, 0, len(b.files))
	for _, f := range b.files {
		recs = append(recs, f.rec)
	}
	b.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ID.Hex() < recs[j].ID.Hex()
	})
	return filterRecords(filter, recs)
}

func (b *memoryBucket) close(context.Context) error { return nil }
