// Package storage holds the configuration shared by the storage backends.
//
// The backends live in subpackages:
//
//   - postgres: connection management with read replicas, schema migrations,
//     the multi-get Repository behind batch loads and the Redis batch cache
//   - archive: S3 archiving of rows removed by the soft-delete purger
//   - sqlitetest: an in-memory SQLite copy of the schema for unit tests
package storage
