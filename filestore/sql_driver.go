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
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileRow is the metadata row of a stored blob.
type FileRow struct {
	bun.BaseModel `bun:"table:docstore_files,alias:f"`

	ID         string    `bun:"id,pk,type:varchar(24)"`
	Filename   string    `bun:"filename,notnull"`
	Length     int64     `bun:"length,notnull"`
	ChunkSize  int       `bun:"chunk_size,notnull"`
	MIMEType   string    `bun:"mime_type"`
	UploadedAt time.Time `bun:"uploaded_at,notnull"`
}

// FileChunkRow holds chunk N of a blob.
type FileChunkRow struct {
	bun.BaseModel `bun:"table:docstore_file_chunks,alias:c"`

	FileID string `bun:"file_id,pk,type:varchar(24)"`
	N      int    `bun:"n,pk"`
	Data   []byte `bun:"data,notnull"`
}

// FileMigrations creates the blob tables.
func FileMigrations() []database.MigrationItem {
	return []database.MigrationItem{
		{
			Version:     "file_001",
			Name:        "create_file_tables",
			Description: "Create the blob metadata and chunk tables",
			Up:          database.CreateTables((*FileRow)(nil), (*FileChunkRow)(nil)),
		},
		{
			Version:     "file_002",
			Name:        "index_file_name",
			Description: "Index blobs by file name",
			Up: func(ctx context.Context, db bun.IDB) error {
				_, err := db.NewCreateIndex().
					Model((*FileRow)(nil)).
					Index("idx_docstore_files_filename").
					Column("filename").
					Exec(ctx)
				return err
			},
		},
	}
}

type sqlFileDriver struct {
	db *bun.DB
}

func openSQLFileDriver(ctx context.Context, cfg *database.DatabaseEndpointConfig, logger database.Logger) (fileDriver, error) {
	db, err := database.OpenSQLDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.NewMigrationManager(db, logger, FileMigrations()...).RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, database.BackendError("migrate file tables", err)
	}
	return &sqlFileDriver{db: db}, nil
}

func (d *sqlFileDriver) upload(ctx context.Context, rec fileRecord, r io.Reader) (int64, error) {
	var length int64
	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		buf := make([]byte, ChunkSize)
		for n := 0; ; n++ {
			read, err := io.ReadFull(r, buf)
			if read > 0 {
				chunk := &FileChunkRow{FileID: rec.ID.Hex(), N: n, Data: append([]byte(nil), buf[:read]...)}
				if _, err := tx.NewInsert().Model(chunk).Exec(ctx); err != nil {
					return err
				}
				length += int64(read)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if err != nil {
				return err
			}
		}
		row := &FileRow{
			ID:         rec.ID.Hex(),
			Filename:   rec.Name,
			Length:     length,
			ChunkSize:  ChunkSize,
			MIMEType:   rec.MIMEType,
			UploadedAt: rec.UploadedAt,
		}
		_, err := tx.NewInsert().Model(row).Exec(ctx)
		return err
	})
	return length, err
}

func (d *sqlFileDriver) download(ctx context.Context, id primitive.ObjectID, w io.Writer) (fileRecord, error) {
	row := new(FileRow)
	err := d.db.NewSelect().Model(row).Where("f.id = ?", id.Hex()).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return fileRecord{}, errFileNotFound
	}
	if err != nil {
		return fileRecord{}, err
	}

	var written int64
	for n := 0; written < row.Length; n++ {
		chunk := new(FileChunkRow)
		err := d.db.NewSelect().Model(chunk).
			Where("c.file_id = ?", row.ID).
			Where("c.n = ?", n).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fileRecord{}, fmt.Errorf("file %s: chunk %d is missing", row.ID, n)
		}
		if err != nil {
			return fileRecord{}, err
		}
		if _, err := w.Write(chunk.Data); err != nil {
			return fileRecord{}, err
		}
		written += int64(len(chunk.Data))
	}
	return rowRecord(row, id), nil
}

func (d *sqlFileDriver) delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	var deleted bool
	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*FileRow)(nil)).Where("id = ?", id.Hex()).Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = affected > 0
		_, err = tx.NewDelete().Model((*FileChunkRow)(nil)).Where("file_id = ?", id.Hex()).Exec(ctx)
		return err
	})
	return deleted, err
}

func (d *sqlFileDriver) rename(ctx context.Context, id primitive.ObjectID, name string) (bool, error) {
	res, err := d.db.NewUpdate().
		Model((*FileRow)(nil)).
		Set("filename = ?", name).
		Where("id = ?", id.Hex()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (d *sqlFileDriver) find(ctx context.Context, filter types.Filter) ([]fileRecord, error) {
	var rows []FileRow
	if err := d.db.NewSelect().Model(&rows).Order("f.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	recs := make([]fileRecord, 0, len(rows))
	for i := range rows {
		oid, err := primitive.ObjectIDFromHex(rows[i].ID)
		if err != nil {
			return nil, fmt.Errorf("file row %q: %w", rows[i].ID, err)
		}
		recs = append(recs, rowRecord(&rows[i], oid))
	}
	return filterRecords(filter, recs)
}

func (d *sqlFileDriver) close(context.Context) error { return d.db.Close() }

func rowRecord(row *FileRow, id primitive.ObjectID) fileRecord {
	return fileRecord{
		ID:         id,
		Name:       row.Filename,
		MIMEType:   row.MIMEType,
		Length:     row.Length,
		UploadedAt: row.UploadedAt.UTC(),
	}
}
