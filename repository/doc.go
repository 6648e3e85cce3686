// Package repository provides a generic record store over database sessions
// for CRUD operations, querying, pagination and convergent replacement.
package repository
