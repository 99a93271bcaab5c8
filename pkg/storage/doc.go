// Package storage provides the persistence plumbing shared by permit's
// components.
//
// # Databases
//
// Open connects to PostgreSQL (lib/pq) or SQLite (mattn/go-sqlite3) and
// configures the connection pool. Both drivers accept the same SQL subset
// used by the rbac package: $n placeholders, ON CONFLICT and RETURNING.
//
//	db, err := storage.Open(ctx, storage.Config{
//		Driver: storage.DriverPostgres,
//		URL:    "postgres://permit@localhost/permit?sslmode=disable",
//	})
//
// WithTx runs a function inside a transaction and rolls back on error.
// Querier is satisfied by both *sql.DB and *sql.Tx, so store code can be
// written once and run inside or outside a transaction.
//
// IsUniqueViolation and IsForeignKeyViolation classify driver errors for
// both backends.
//
// # Redis
//
// NewRedisClient builds a go-redis client from a URL. It backs the
// distributed rate limiter and is probed by the health checker.
//
// # Object storage
//
// S3Writer uploads exported audit data to an S3 compatible bucket.
package storage
