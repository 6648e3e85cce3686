// Package database provides endpoint configuration, connection-string
// building, sessions with begin/commit/abort transactions and the backend
// drivers (MongoDB, a document emulation on PostgreSQL, MySQL and SQLite
// built on Bun, and a process-local memory store) behind one capability set.
package database
