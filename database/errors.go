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
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrorKind classifies failures surfaced by the data-access layer.
type ErrorKind int

const (
	KindBackend ErrorKind = iota
	KindConfiguration
	KindConnection
	KindInvalidState
	KindWrite
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindConnection:
		return "connection error"
	case KindInvalidState:
		return "invalid state"
	case KindWrite:
		return "write error"
	case KindNotFound:
		return "not found"
	default:
		return "backend error"
	}
}

// Sentinels for errors.Is; an *Error matches the sentinel of its kind.
var (
	ErrBackend       = &Error{Kind: KindBackend}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrConnection    = &Error{Kind: KindConnection}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrWrite         = &Error{Kind: KindWrite}
	ErrNotFound      = &Error{Kind: KindNotFound}
)

// ErrWriteConflict is wrapped by the write error of a commit that lost a race
// with another writer of the same document.
var ErrWriteConflict = errors.New("write conflict")

// Error is a classified failure. Err keeps the original cause so callers can
// still reach driver errors with errors.As.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, which makes the sentinels work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && t.Err == nil
}

func newError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind ErrorKind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// ConfigurationError reports a malformed or incomplete endpoint configuration.
func ConfigurationError(op string, err error) error { return newError(KindConfiguration, op, err) }

// InvalidStateError reports transaction API misuse or use after close.
func InvalidStateError(op string, format string, args ...interface{}) error {
	return errorf(KindInvalidState, op, format, args...)
}

// NotFoundError reports a lookup miss.
func NotFoundError(op string, err error) error { return newError(KindNotFound, op, err) }

// ConnectionError reports a failure to reach or authenticate with the backend.
func ConnectionError(op string, err error) error { return newError(KindConnection, op, err) }

// WriteError reports a write rejected before or by the backend.
func WriteError(op string, err error) error { return newError(KindWrite, op, err) }

// BackendError wraps any other backend fault.
func BackendError(op string, err error) error { return newError(KindBackend, op, err) }

// KindOf returns the kind of a classified error, or KindBackend.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

// ClassifyRead wraps a failure of a read operation.
func ClassifyRead(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(KindBackend, op, err)
}

// ClassifyWrite wraps a failure of a write operation: backend rejections
// (duplicate key, constraint and validation failures) become write errors,
// everything else stays a backend error.
func ClassifyWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsWriteRejection(err) {
		return newError(KindWrite, op, err)
	}
	return newError(KindBackend, op, err)
}

// IsWriteRejection reports whether the backend refused the write itself, as
// opposed to failing to execute it.
func IsWriteRejection(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		return true
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		return true
	}
	if is, code := IsSqlError(err); is {
		switch code {
		case DuplicateKeyErr, NotNullViolationErr, ForeignKeyViolationErr,
			CheckConstraintViolationErr, DataTruncatedErr, InvalidTypeCastErr:
			return true
		}
	}
	return false
}

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
)

// IsSqlError recognizes errors raised by the MySQL, PostgreSQL and SQLite
// drivers and maps them to a SQLError code.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1146:
			return true, NoTableErr
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265, 1406:
			return true, DataTruncatedErr
		default:
			return true, UnknownErr
		}
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table"):
		return true, NoTableErr
	case strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505"):
		return true, DuplicateKeyErr
	case strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed"):
		return true, NotNullViolationErr
	case strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503"):
		return true, ForeignKeyViolationErr
	case strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514"):
		return true, CheckConstraintViolationErr
	case strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated"):
		return true, DataTruncatedErr
	case strings.Contains(s, "datatype mismatch") ||
		strings.Contains(s, "sqlstate 42804"):
		return true, InvalidTypeCastErr
	}
	return false, UnknownErr
}
