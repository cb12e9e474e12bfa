package store

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/lib/pq"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
)

// PostgreSQLDialect are the hub_properties statements for PostgreSQL
var PostgreSQLDialect = Dialect{
	Name: "PostgreSQL",
	CreateTable: `CREATE TABLE IF NOT EXISTS hub_properties (
		device_id VARCHAR(64) NOT NULL,
		interface VARCHAR(255) NOT NULL,
		path VARCHAR(255) NOT NULL,
		payload BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (device_id, interface, path)
	)`,
	Upsert: "INSERT INTO hub_properties (device_id, interface, path, payload) VALUES ($1, $2, $3, $4) " +
		"ON CONFLICT (device_id, interface, path) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()",
	Delete: "DELETE FROM hub_properties WHERE device_id = $1 AND interface = $2 AND path = $3",
	Load:   "SELECT path, payload FROM hub_properties WHERE device_id = $1 AND interface = $2",
}

// postgresServerDSN splits a DSN, URL or key/value form, into its database
// name and a key/value DSN pointing at the postgres maintenance database
func postgresServerDSN(dsn string) (database, serverDSN string, err error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dsn, err = pq.ParseURL(dsn)
		if err != nil {
			return "", "", errs.Wrap(errs.KindConfiguration, err, "parse PostgreSQL URL")
		}
	}

	pairs, err := splitConninfo(dsn)
	if err != nil {
		return "", "", err
	}
	server := make([]string, 0, len(pairs)+1)
	for _, kv := range pairs {
		if name, ok := strings.CutPrefix(kv, "dbname="); ok {
			database = unquoteConninfo(name)
			continue
		}
		server = append(server, kv)
	}
	if database == "" {
		return "", "", errs.New(errs.KindConfiguration, "PostgreSQL DSN has no database name")
	}
	server = append(server, "dbname=postgres")
	return database, strings.Join(server, " "), nil
}

// splitConninfo breaks a key/value DSN on whitespace outside single quotes.
// Pairs are returned as written; spaces around '=' are not supported.
func splitConninfo(dsn string) ([]string, error) {
	var (
		pairs   []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range dsn {
		switch {
		case escaped:
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '\'':
			quoted = !quoted
		case !quoted && unicode.IsSpace(r):
			if cur.Len() > 0 {
				pairs = append(pairs, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if quoted {
		return nil, errs.New(errs.KindConfiguration, "PostgreSQL DSN has an unterminated quote")
	}
	if cur.Len() > 0 {
		pairs = append(pairs, cur.String())
	}
	return pairs, nil
}

var conninfoUnescaper = strings.NewReplacer(`\'`, `'`, `\\`, `\`)

func unquoteConninfo(v string) string {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return conninfoUnescaper.Replace(v[1 : len(v)-1])
	}
	return v
}

// OpenPostgreSQL creates the database if it does not exist and connects
// to it
func OpenPostgreSQL(dsn string) (*sql.DB, error) {
	database, serverDSN, err := postgresServerDSN(dsn)
	if err != nil {
		return nil, err
	}

	serverDB, err := sql.Open("postgres", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL server failed: %w", err)
	}
	defer serverDB.Close()

	var exists bool
	err = serverDB.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check PostgreSQL database failed: %w", err)
	}
	if !exists {
		// CREATE DATABASE cannot take a bind parameter
		if _, err := serverDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(database)); err != nil {
			return nil, fmt.Errorf("create PostgreSQL database failed: %w", err)
		}
		logger.Info("created PostgreSQL database: %s", database)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL database failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("PostgreSQL connection test failed: %w", err)
	}
	configurePool(db)
	return db, nil
}
