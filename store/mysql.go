package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
)

// MySQLDialect are the hub_properties statements for MySQL
var MySQLDialect = Dialect{
	Name: "MySQL",
	CreateTable: `CREATE TABLE IF NOT EXISTS hub_properties (
		device_id VARCHAR(64) NOT NULL,
		interface VARCHAR(255) NOT NULL,
		path VARCHAR(255) NOT NULL,
		payload BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (device_id, interface, path)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	Upsert: "INSERT INTO hub_properties (device_id, interface, path, payload) VALUES (?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE payload = VALUES(payload)",
	Delete: "DELETE FROM hub_properties WHERE device_id = ? AND interface = ? AND path = ?",
	Load:   "SELECT path, payload FROM hub_properties WHERE device_id = ? AND interface = ?",
}

// mysqlServerDSN splits a DSN into its database name and a DSN for the
// server without a database selected
func mysqlServerDSN(dsn string) (database, serverDSN string, err error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", "", errs.Wrap(errs.KindConfiguration, err, "parse MySQL DSN")
	}
	if cfg.DBName == "" {
		return "", "", errs.New(errs.KindConfiguration, "MySQL DSN has no database name")
	}
	database = cfg.DBName
	cfg.DBName = ""
	return database, cfg.FormatDSN(), nil
}

// OpenMySQL creates the database if it does not exist and connects to it
func OpenMySQL(dsn string) (*sql.DB, error) {
	database, serverDSN, err := mysqlServerDSN(dsn)
	if err != nil {
		return nil, err
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL server failed: %w", err)
	}
	defer serverDB.Close()

	quoted := "`" + strings.ReplaceAll(database, "`", "``") + "`"
	if _, err := serverDB.Exec("CREATE DATABASE IF NOT EXISTS " + quoted + " CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		return nil, fmt.Errorf("create MySQL database failed: %w", err)
	}
	logger.Info("ensured MySQL database %s exists", database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL database failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("MySQL connection test failed: %w", err)
	}
	configurePool(db)
	return db, nil
}
