package storage

import (
	_ "github.com/lib/pq"
)

// PostgresStore shares run history between several server instances.
type PostgresStore struct {
	sqlStore
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{sqlStore: sqlStore{
		dsn:     dsn,
		dialect: dialect{driver: "postgres", blobType: "BYTEA", numbered: true, missingDSN: "postgres dsn is required"},
	}}
}
