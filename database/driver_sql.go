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
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.mongodb.org/mongo-driver/bson"
)

// DocumentRow is the relational form of a document: its collection, the
// canonical form of its _id, an insertion ordinal and the body as canonical
// extended JSON.
type DocumentRow struct {
	bun.BaseModel `bun:"table:docstore_documents,alias:d"`

	Collection string `bun:"collection,pk,type:varchar(255)"`
	ID         string `bun:"id,pk,type:varchar(255)"`
	Seq        int64  `bun:"seq,notnull"`
	Body       string `bun:"body,type:text,notnull"`
}

// sqlView implements docTx on a bun.IDB, always a transaction in practice.
type sqlView struct {
	idb bun.IDB
}

const sqlDeleteBatch = 500

// selectDocuments lists the rows of a collection in insertion order. Write
// paths lock the rows they read until the transaction ends; SQLite has no
// row locks and runs on a single connection.
func selectDocuments(idb bun.IDB, rows *[]DocumentRow, collection string, forWrite bool) *bun.SelectQuery {
	q := idb.NewSelect().
		Model(rows).
		Where("collection = ?", collection).
		Order("seq ASC", "id ASC")
	if forWrite && idb.Dialect().Name() != dialect.SQLite {
		q = q.For("UPDATE")
	}
	return q
}

func (v *sqlView) load(ctx context.Context, collection string, forWrite bool) ([]storedDoc, error) {
	var rows []DocumentRow
	if err := selectDocuments(v.idb, &rows, collection, forWrite).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]storedDoc, 0, len(rows))
	for _, row := range rows {
		raw, err := extJSONToRaw(row.Body)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", collection, row.ID, err)
		}
		out = append(out, storedDoc{key: row.ID, seq: row.Seq, raw: raw})
	}
	return out, nil
}

func (v *sqlView) insert(ctx context.Context, collection string, docs []storedDoc) error {
	rows, err := toRows(collection, docs)
	if err != nil {
		return err
	}
	base := time.Now().UnixNano()
	for i := range rows {
		rows[i].Seq = base + int64(i)
	}
	_, err = v.idb.NewInsert().Model(&rows).Exec(ctx)
	return ClassifyWrite("insert "+collection, err)
}

func (v *sqlView) update(ctx context.Context, collection string, docs []storedDoc) error {
	rows, err := toRows(collection, docs)
	if err != nil {
		return err
	}
	for i := range rows {
		_, err := v.idb.NewUpdate().
			Model(&rows[i]).
			Column("body").
			WherePK().
			Exec(ctx)
		if err != nil {
			return ClassifyWrite("update "+collection, err)
		}
	}
	return nil
}

func (v *sqlView) remove(ctx context.Context, collection string, keys []string) error {
	for start := 0; start < len(keys); start += sqlDeleteBatch {
		end := start + sqlDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		_, err := v.idb.NewDelete().
			Model((*DocumentRow)(nil)).
			Where("collection = ?", collection).
			Where("id IN (?)", bun.In(keys[start:end])).
			Exec(ctx)
		if err != nil {
			return ClassifyWrite("delete "+collection, err)
		}
	}
	return nil
}

func toRows(collection string, docs []storedDoc) ([]DocumentRow, error) {
	rows := make([]DocumentRow, len(docs))
	for i, d := range docs {
		body, err := bson.MarshalExtJSON(d.raw, true, false)
		if err != nil {
			return nil, WriteError("encode "+collection, err)
		}
		rows[i] = DocumentRow{Collection: collection, ID: d.key, Seq: d.seq, Body: string(body)}
	}
	return rows, nil
}

func extJSONToRaw(body string) (bson.Raw, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(body), true, &d); err != nil {
		return nil, err
	}
	return bson.Marshal(d)
}
