// Package postgres provides PostgreSQL implementations of the persistence
// interfaces consumed by the job queue and the pipeline executor. All
// stores operate over store.DBTX so they work both standalone and inside
// a transaction.
package postgres
