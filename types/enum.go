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

package types

import "strings"

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// DatabaseType tags the backend an endpoint configuration points at.
type DatabaseType string

const (
	MongoDB    DatabaseType = "MongoDB"
	PostgreSQL DatabaseType = "PostgreSQL"
	MySQL      DatabaseType = "MySQL"
	SQLite     DatabaseType = "SQLite"
	Memory     DatabaseType = "Memory"
)

var databaseTypes = []struct {
	typ  DatabaseType
	desc string
}{
	{MongoDB, "MongoDB document database"},
	{PostgreSQL, "PostgreSQL document emulation"},
	{MySQL, "MySQL document emulation"},
	{SQLite, "SQLite document emulation"},
	{Memory, "process local in-memory store"},
}

var _ BaseEnum = DatabaseType("")

// ParseDatabaseType matches s against the known database types ignoring case.
// Aliases used by the SQL drivers ("postgres", "sqlite3") are accepted. Unknown
// values are returned unchanged and report IsValid() == false.
func ParseDatabaseType(s string) DatabaseType {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "mongo", "mongodb":
		return MongoDB
	case "postgres", "postgresql", "pg":
		return PostgreSQL
	case "mysql":
		return MySQL
	case "sqlite", "sqlite3":
		return SQLite
	case "memory", "mem":
		return Memory
	}
	return DatabaseType(s)
}

func (t DatabaseType) IsValid() bool { return t.Number() != IllegalValue }

func (t DatabaseType) Number() int {
	for i, d := range databaseTypes {
		if d.typ == t {
			return i
		}
	}
	return IllegalValue
}

func (t DatabaseType) String() string { return string(t) }

func (t DatabaseType) Desc() string {
	if n := t.Number(); n != IllegalValue {
		return databaseTypes[n].desc
	}
	return IllegalDesc
}

func (t DatabaseType) Name() string {
	if !t.IsValid() {
		return IllegalName
	}
	return strings.ToLower(string(t))
}

// IsSQL reports whether the type is served by the bun document emulation.
func (t DatabaseType) IsSQL() bool {
	return t == PostgreSQL || t == MySQL || t == SQLite
}

// DatabaseTypes returns every known database type in declaration order.
func DatabaseTypes() []DatabaseType {
	out := make([]DatabaseType, len(databaseTypes))
	for i, d := range databaseTypes {
		out[i] = d.typ
	}
	return out
}
