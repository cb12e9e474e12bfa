// Package store persists the property state the hub has seen, keyed by
// interface and path.
package store

import (
	"context"
	"database/sql"
	"sort"

	"github.com/eddielth/msghub-e2e/config"
	errs "github.com/eddielth/msghub-e2e/errors"
)

// Backend represents a property store backend
type Backend interface {
	// Save stores the encoded payload of a property, replacing any
	// previous value
	Save(ctx context.Context, iface, path string, payload []byte) error
	// Delete removes a property; deleting a missing one is not an error
	Delete(ctx context.Context, iface, path string) error
	// Load returns every stored property of an interface by path
	Load(ctx context.Context, iface string) (map[string][]byte, error)
	// Close releases the backend
	Close() error
}

// Type names a backend
type Type string

const (
	// File keeps one JSON document per interface
	File Type = "file"
	// MySQL stores properties in a MySQL table
	MySQL Type = "mysql"
	// PostgreSQL stores properties in a PostgreSQL table
	PostgreSQL Type = "postgresql"
)

// New opens the backend selected by cfg. The file backend lives in dir;
// the SQL backends scope their rows to deviceID.
func New(cfg config.StoreConfig, dir, deviceID string) (Backend, error) {
	switch Type(cfg.Type) {
	case File, "":
		return NewFileStore(dir)
	case MySQL:
		return openSQL(OpenMySQL, cfg.DSN, MySQLDialect, deviceID)
	case PostgreSQL:
		return openSQL(OpenPostgreSQL, cfg.DSN, PostgreSQLDialect, deviceID)
	default:
		return nil, errs.New(errs.KindConfiguration, "unsupported store type: %s", cfg.Type)
	}
}

// openSQL connects with open and prepares the table, closing the
// connection again if the table cannot be created
func openSQL(open func(string) (*sql.DB, error), dsn string, dialect Dialect, deviceID string) (Backend, error) {
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLStore(db, dialect, deviceID)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Paths returns the stored paths of a property set in sorted order
func Paths(props map[string][]byte) []string {
	paths := make([]string, 0, len(props))
	for p := range props {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
