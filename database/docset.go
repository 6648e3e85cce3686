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
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// storedDoc is one document of an embedded backend. key is the canonical
// form of its _id and seq its insertion order.
type storedDoc struct {
	key string
	seq int64
	raw bson.Raw
}

// docTx reads and writes the documents of one backend inside one atomic unit.
type docTx interface {
	// load lists a collection in insertion order. forWrite is set when the
	// caller writes back what it read in the same unit.
	load(ctx context.Context, collection string, forWrite bool) ([]storedDoc, error)
	// insert fails with a write error when a key already exists.
	insert(ctx context.Context, collection string, docs []storedDoc) error
	update(ctx context.Context, collection string, docs []storedDoc) error
	remove(ctx context.Context, collection string, keys []string) error
}

// docBackend runs fn atomically, inside the session transaction when one is
// active.
type docBackend interface {
	run(ctx context.Context, fn func(ctx context.Context, tx docTx) error) error
}

// embeddedCollection implements CollectionHandle over a docBackend.
type embeddedCollection struct {
	name    string
	backend docBackend
}

var _ CollectionHandle = (*embeddedCollection)(nil)

func newEmbeddedCollection(name string, backend docBackend) *embeddedCollection {
	return &embeddedCollection{name: name, backend: backend}
}

func (c *embeddedCollection) InsertOne(ctx context.Context, doc bson.Raw) error {
	return c.InsertMany(ctx, []bson.Raw{doc})
}

func (c *embeddedCollection) InsertMany(ctx context.Context, docs []bson.Raw) error {
	if len(docs) == 0 {
		return nil
	}
	prepared := make([]storedDoc, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, raw := range docs {
		sd, err := prepareInsert(raw)
		if err != nil {
			return WriteError("insert "+c.name, err)
		}
		if _, dup := seen[sd.key]; dup {
			return WriteError("insert "+c.name, fmt.Errorf("duplicate key: _id %s", sd.key))
		}
		seen[sd.key] = struct{}{}
		prepared = append(prepared, sd)
	}
	return c.backend.run(ctx, func(ctx context.Context, tx docTx) error {
		return tx.insert(ctx, c.name, prepared)
	})
}

func (c *embeddedCollection) Find(ctx context.Context, filter types.Filter, opts FindOptions) ([]bson.Raw, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, BackendError("find "+c.name, err)
	}
	var found []bson.D
	err = c.backend.run(ctx, func(ctx context.Context, tx docTx) error {
		docs, err := tx.load(ctx, c.name, false)
		if err != nil {
			return err
		}
		for _, sd := range docs {
			d, err := decodeDocument(sd.raw)
			if err != nil {
				return err
			}
			if matches(d, f) {
				found = append(found, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out, err := window(found, opts)
	if err != nil {
		return nil, BackendError("find "+c.name, err)
	}
	return out, nil
}

// FilterDocuments evaluates filter over docs in process and applies the sort
// and window of opts, with the same semantics as the embedded backends.
func FilterDocuments(filter types.Filter, docs []bson.Raw, opts FindOptions) ([]bson.Raw, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	var found []bson.D
	for _, raw := range docs {
		d, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		if matches(d, f) {
			found = append(found, d)
		}
	}
	return window(found, opts)
}

func window(found []bson.D, opts FindOptions) ([]bson.Raw, error) {
	sortDocuments(found, opts.Sort)
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(found)) {
			found = nil
		} else {
			found = found[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(found)) {
		found = found[:opts.Limit]
	}

	out := make([]bson.Raw, 0, len(found))
	for _, d := range found {
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (c *embeddedCollection) UpdateMany(ctx context.Context, filter types.Filter, update types.Update) (UpdateResult, error) {
	var res UpdateResult
	f, err := normalizeFilter(filter)
	if err != nil {
		return res, BackendError("update "+c.name, err)
	}
	if err := update.Validate(); err != nil {
		return res, WriteError("update "+c.name, err)
	}
	err = c.backend.run(ctx, func(ctx context.Context, tx docTx) error {
		docs, err := tx.load(ctx, c.name, true)
		if err != nil {
			return err
		}
		var changed []storedDoc
		for _, sd := range docs {
			d, err := decodeDocument(sd.raw)
			if err != nil {
				return err
			}
			if !matches(d, f) {
				continue
			}
			res.Matched++
			next, err := applyUpdate(d, update)
			if err != nil {
				return WriteError("update "+c.name, err)
			}
			raw, err := bson.Marshal(next)
			if err != nil {
				return WriteError("update "+c.name, err)
			}
			if !bytes.Equal(raw, sd.raw) {
				res.Modified++
				changed = append(changed, storedDoc{key: sd.key, seq: sd.seq, raw: raw})
			}
		}
		if len(changed) == 0 {
			return nil
		}
		return tx.update(ctx, c.name, changed)
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

// ReplaceOne replaces the first match in insertion order. The stored _id is
// kept; a replacement carrying a different _id is rejected.
func (c *embeddedCollection) ReplaceOne(ctx context.Context, filter types.Filter, doc bson.Raw) (UpdateResult, error) {
	var res UpdateResult
	f, err := normalizeFilter(filter)
	if err != nil {
		return res, BackendError("replace "+c.name, err)
	}
	replacement, err := decodeDocument(doc)
	if err != nil {
		return res, WriteError("replace "+c.name, err)
	}
	err = c.backend.run(ctx, func(ctx context.Context, tx docTx) error {
		docs, err := tx.load(ctx, c.name, true)
		if err != nil {
			return err
		}
		for _, sd := range docs {
			d, err := decodeDocument(sd.raw)
			if err != nil {
				return err
			}
			if !matches(d, f) {
				continue
			}
			res.Matched = 1
			next, err := withStoredID(replacement, d)
			if err != nil {
				return WriteError("replace "+c.name, err)
			}
			raw, err := bson.Marshal(next)
			if err != nil {
				return WriteError("replace "+c.name, err)
			}
			if bytes.Equal(raw, sd.raw) {
				return nil
			}
			res.Modified = 1
			return tx.update(ctx, c.name, []storedDoc{{key: sd.key, seq: sd.seq, raw: raw}})
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

func (c *embeddedCollection) DeleteMany(ctx context.Context, filter types.Filter) (int64, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, BackendError("delete "+c.name, err)
	}
	var deleted int64
	err = c.backend.run(ctx, func(ctx context.Context, tx docTx) error {
		docs, err := tx.load(ctx, c.name, true)
		if err != nil {
			return err
		}
		var keys []string
		for _, sd := range docs {
			d, err := decodeDocument(sd.raw)
			if err != nil {
				return err
			}
			if matches(d, f) {
				keys = append(keys, sd.key)
			}
		}
		if len(keys) == 0 {
			return nil
		}
		deleted = int64(len(keys))
		return tx.remove(ctx, c.name, keys)
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (c *embeddedCollection) Count(ctx context.Context, filter types.Filter) (int64, error) {
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, BackendError("count "+c.name, err)
	}
	var n int64
	err = c.backend.run(ctx, func(ctx context.Context, tx docTx) error {
		docs, err := tx.load(ctx, c.name, false)
		if err != nil {
			return err
		}
		for _, sd := range docs {
			d, err := decodeDocument(sd.raw)
			if err != nil {
				return err
			}
			if matches(d, f) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func decodeDocument(raw bson.Raw) (bson.D, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// prepareInsert assigns an ObjectID when the document has no _id and moves
// _id to the front, as the server does.
func prepareInsert(raw bson.Raw) (storedDoc, error) {
	d, err := decodeDocument(raw)
	if err != nil {
		return storedDoc{}, err
	}
	id, rest := splitID(d)
	if id == nil {
		id = primitive.NewObjectID()
	}
	if typeRank(id) == rankArray {
		return storedDoc{}, errors.New("the '_id' value cannot be of type array")
	}
	out := append(bson.D{{Key: "_id", Value: id}}, rest...)
	enc, err := bson.Marshal(out)
	if err != nil {
		return storedDoc{}, err
	}
	key, err := documentKey(id)
	if err != nil {
		return storedDoc{}, err
	}
	return storedDoc{key: key, raw: enc}, nil
}

func withStoredID(replacement, stored bson.D) (bson.D, error) {
	storedID, _ := splitID(stored)
	id, rest := splitID(replacement)
	if id != nil && !valuesEqual(id, storedID) {
		return nil, errors.New("the (immutable) field '_id' was found to have been altered")
	}
	return append(bson.D{{Key: "_id", Value: storedID}}, rest...), nil
}

func splitID(d bson.D) (interface{}, bson.D) {
	rest := make(bson.D, 0, len(d))
	var id interface{}
	for _, e := range d {
		if e.Key == "_id" {
			id = e.Value
			continue
		}
		rest = append(rest, e)
	}
	return id, rest
}

// documentKey renders an _id as a stable string. Numbers of different BSON
// types that are equal map to the same key.
func documentKey(id interface{}) (string, error) {
	if typeRank(id) == rankNumber {
		return "n:" + fmt.Sprint(toFloat(id)), nil
	}
	b, err := bson.MarshalExtJSON(bson.D{{Key: "k", Value: id}}, true, false)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
