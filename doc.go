// Package docstore is a client-side data-access layer over document
// databases: sessions with transactions, generic record services and a blob
// store, on MongoDB, SQL databases or process memory.
package docstore
