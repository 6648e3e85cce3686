// Package filestore stores named byte payloads in GridFS, in chunk tables of
// a SQL database, or in process memory.
package filestore
