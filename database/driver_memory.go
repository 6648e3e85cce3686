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
	"sort"
	"strings"
	"sync"

	"github.com/tomoncle/docstore/types"
)

// Memory databases live for the lifetime of the process and are shared by
// every session opened with the same hosts and database name.
var (
	memoryDatabases   = map[string]*memoryDatabase{}
	memoryDatabasesMu sync.Mutex
)

func memoryDatabaseFor(cfg *DatabaseEndpointConfig) *memoryDatabase {
	key := strings.Join(cfg.Hosts, ",") + "/" + cfg.DatabaseName
	memoryDatabasesMu.Lock()
	defer memoryDatabasesMu.Unlock()
	db, ok := memoryDatabases[key]
	if !ok {
		db = &memoryDatabase{data: memoryData{}, versions: memoryVersions{}}
		memoryDatabases[key] = db
	}
	return db
}

// DropMemoryDatabase forgets the memory database addressed by cfg.
func DropMemoryDatabase(cfg *DatabaseEndpointConfig) {
	memoryDatabasesMu.Lock()
	defer memoryDatabasesMu.Unlock()
	delete(memoryDatabases, strings.Join(cfg.Hosts, ",")+"/"+cfg.DatabaseName)
}

// memoryData maps collection -> key -> document.
type memoryData map[string]map[string]storedDoc

func (m memoryData) clone() memoryData {
	out := make(memoryData, len(m))
	for coll, docs := range m {
		cp := make(map[string]storedDoc, len(docs))
		for k, d := range docs {
			cp[k] = d
		}
		out[coll] = cp
	}
	return out
}

// memoryVersions counts the writes of every key ever stored, deletes
// included, so a transaction can tell whether a key moved under it.
type memoryVersions map[string]map[string]int64

func (m memoryVersions) get(collection, key string) int64 {
	return m[collection][key]
}

func (m memoryVersions) bump(collection, key string) {
	keys, ok := m[collection]
	if !ok {
		keys = map[string]int64{}
		m[collection] = keys
	}
	keys[key]++
}

func (m memoryVersions) clone() memoryVersions {
	out := make(memoryVersions, len(m))
	for coll, keys := range m {
		cp := make(map[string]int64, len(keys))
		for k, v := range keys {
			cp[k] = v
		}
		out[coll] = cp
	}
	return out
}

type memoryDatabase struct {
	mu       sync.Mutex
	data     memoryData
	versions memoryVersions
	seq      int64
}

// memoryView is a docTx over a memoryData. The live view bumps versions on
// every write. A transaction view records written and inserted keys instead,
// so commit can check and publish only what it touched.
type memoryView struct {
	data     memoryData
	seq      *int64
	versions memoryVersions
	dirty    keySet
	inserted keySet
}

// keySet maps collection -> keys.
type keySet map[string]map[string]struct{}

func (ks keySet) add(collection, key string) {
	keys, ok := ks[collection]
	if !ok {
		keys = map[string]struct{}{}
		ks[collection] = keys
	}
	keys[key] = struct{}{}
}

func (ks keySet) has(collection, key string) bool {
	_, ok := ks[collection][key]
	return ok
}

func (v *memoryView) touch(collection, key string) {
	if v.versions != nil {
		v.versions.bump(collection, key)
	}
	if v.dirty != nil {
		v.dirty.add(collection, key)
	}
}

func (v *memoryView) load(_ context.Context, collection string, _ bool) ([]storedDoc, error) {
	docs := v.data[collection]
	out := make([]storedDoc, 0, len(docs))
	for _, d := range docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].seq != out[j].seq {
			return out[i].seq < out[j].seq
		}
		return out[i].key < out[j].key
	})
	return out, nil
}

func (v *memoryView) insert(_ context.Context, collection string, docs []storedDoc) error {
	coll, ok := v.data[collection]
	if !ok {
		coll = map[string]storedDoc{}
		v.data[collection] = coll
	}
	for _, d := range docs {
		if _, exists := coll[d.key]; exists {
			return WriteError("insert "+collection, fmt.Errorf("duplicate key: _id %s", d.key))
		}
	}
	for _, d := range docs {
		*v.seq++
		d.seq = *v.seq
		coll[d.key] = d
		v.touch(collection, d.key)
		if v.inserted != nil {
			v.inserted.add(collection, d.key)
		}
	}
	return nil
}

func (v *memoryView) update(_ context.Context, collection string, docs []storedDoc) error {
	coll := v.data[collection]
	for _, d := range docs {
		if coll == nil {
			break
		}
		if _, ok := coll[d.key]; !ok {
			continue
		}
		coll[d.key] = d
		v.touch(collection, d.key)
	}
	return nil
}

func (v *memoryView) remove(_ context.Context, collection string, keys []string) error {
	coll := v.data[collection]
	for _, k := range keys {
		if _, ok := coll[k]; ok {
			delete(coll, k)
			v.touch(collection, k)
		}
	}
	return nil
}

type memoryDriver struct {
	db     *memoryDatabase
	logger Logger
}

func openMemoryDriver(_ context.Context, cfg *DatabaseEndpointConfig, logger Logger) (Driver, error) {
	logger.Debug("Using process-local memory database", "hosts", cfg.Hosts, "database", cfg.DatabaseName)
	return &memoryDriver{db: memoryDatabaseFor(cfg), logger: logger}, nil
}

func (d *memoryDriver) Type() types.DatabaseType { return types.Memory }

func (d *memoryDriver) Ping(ctx context.Context) error { return ctx.Err() }

func (d *memoryDriver) NewSession(context.Context) (SessionHandle, error) {
	return &memorySession{db: d.db}, nil
}

func (d *memoryDriver) Close(context.Context) error { return nil }

// memorySession stages transactional writes in a private snapshot. Commit
// publishes the touched documents, and fails with a write error when any of
// them was written by someone else after the snapshot was taken.
type memorySession struct {
	db    *memoryDatabase
	mu    sync.Mutex
	stage *memoryView
	base  memoryVersions
	ended bool
}

func (s *memorySession) StartTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New("session ended")
	}
	if s.stage != nil {
		return errors.New("transaction already in progress")
	}
	s.db.mu.Lock()
	seq := s.db.seq
	s.stage = &memoryView{data: s.db.data.clone(), seq: &seq, dirty: keySet{}, inserted: keySet{}}
	s.base = s.db.versions.clone()
	s.db.mu.Unlock()
	return nil
}

func (s *memorySession) CommitTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == nil {
		return errors.New("no transaction in progress")
	}
	stage, base := s.stage, s.base
	s.stage, s.base = nil, nil

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.checkConflicts(stage, base); err != nil {
		return err
	}
	for coll, keys := range stage.dirty {
		live, ok := s.db.data[coll]
		if !ok {
			live = map[string]storedDoc{}
			s.db.data[coll] = live
		}
		for k := range keys {
			s.db.versions.bump(coll, k)
			doc, present := stage.data[coll][k]
			if !present {
				delete(live, k)
				continue
			}
			if prev, existed := live[k]; existed {
				doc.seq = prev.seq
			} else {
				s.db.seq++
				doc.seq = s.db.seq
			}
			live[k] = doc
		}
	}
	return nil
}

// checkConflicts must run with s.db.mu held.
func (s *memorySession) checkConflicts(stage *memoryView, base memoryVersions) error {
	const op = "commit transaction"
	for coll, keys := range stage.dirty {
		for k := range keys {
			if s.db.versions.get(coll, k) == base.get(coll, k) {
				continue
			}
			_, live := s.db.data[coll][k]
			if live && stage.inserted.has(coll, k) {
				return WriteError(op, fmt.Errorf("duplicate key: _id %s", k))
			}
			return WriteError(op, fmt.Errorf("%w: %s %s was modified by another writer", ErrWriteConflict, coll, k))
		}
	}
	return nil
}

func (s *memorySession) AbortTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == nil {
		return errors.New("no transaction in progress")
	}
	s.stage, s.base = nil, nil
	return nil
}

func (s *memorySession) Collection(name string) CollectionHandle {
	return newEmbeddedCollection(name, s)
}

func (s *memorySession) End(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage, s.base = nil, nil
	s.ended = true
	return nil
}

func (s *memorySession) run(ctx context.Context, fn func(ctx context.Context, tx docTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New("session ended")
	}
	if s.stage != nil {
		return fn(ctx, s.stage)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(ctx, &memoryView{data: s.db.data, seq: &s.db.seq, versions: s.db.versions})
}
