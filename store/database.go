package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eddielth/msghub-e2e/logger"
)

// Dialect holds the statements of one SQL database
type Dialect struct {
	Name        string
	CreateTable string
	Upsert      string
	Delete      string
	Load        string
}

// SQLStore stores the properties of one device in the hub_properties table
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	device  string
}

// NewSQLStore creates the table if needed
func NewSQLStore(db *sql.DB, dialect Dialect, deviceID string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, device: deviceID}
	if err := s.InitDatabase(context.Background()); err != nil {
		return nil, err
	}
	logger.Info("%s property store initialized", dialect.Name)
	return s, nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// InitDatabase creates the hub_properties table
func (s *SQLStore) InitDatabase(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.CreateTable); err != nil {
		return fmt.Errorf("create %s property table failed: %w", s.dialect.Name, err)
	}
	return nil
}

// Save implements Backend
func (s *SQLStore) Save(ctx context.Context, iface, path string, payload []byte) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert, s.device, iface, path, payload); err != nil {
		return fmt.Errorf("store property %s%s failed: %w", iface, path, err)
	}
	logger.Debug("stored property %s%s in %s", iface, path, s.dialect.Name)
	return nil
}

// Delete implements Backend
func (s *SQLStore) Delete(ctx context.Context, iface, path string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Delete, s.device, iface, path); err != nil {
		return fmt.Errorf("delete property %s%s failed: %w", iface, path, err)
	}
	logger.Debug("deleted property %s%s from %s", iface, path, s.dialect.Name)
	return nil
}

// Load implements Backend
func (s *SQLStore) Load(ctx context.Context, iface string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Load, s.device, iface)
	if err != nil {
		return nil, fmt.Errorf("load properties of %s failed: %w", iface, err)
	}
	defer rows.Close()

	props := make(map[string][]byte)
	for rows.Next() {
		var path string
		var payload []byte
		if err := rows.Scan(&path, &payload); err != nil {
			return nil, fmt.Errorf("scan property of %s failed: %w", iface, err)
		}
		props[path] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load properties of %s failed: %w", iface, err)
	}
	return props, nil
}

// Close implements Backend
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s connection failed: %w", s.dialect.Name, err)
	}
	logger.Info("%s connection closed", s.dialect.Name)
	return nil
}
