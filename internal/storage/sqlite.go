//go:build sqlite

package storage

import (
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	sqlStore
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{sqlStore: sqlStore{
		dsn:     path,
		dialect: dialect{driver: "sqlite", blobType: "BLOB", missingDSN: "sqlite path is required"},
	}}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
