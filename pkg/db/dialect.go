package db

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/smallbiznis/railzway-benefits/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm driver for DATABASE_TYPE. DATABASE_DSN, when set,
// is passed to the driver untouched.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.DBType) {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

// DSN renders the connection string for the configured database. Sessions
// run in UTC; postgres connections are tagged with the service name.
func DSN(cfg config.Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DBDSN); dsn != "" {
		return dsn, nil
	}
	switch strings.ToLower(cfg.DBType) {
	case "postgres":
		params := url.Values{}
		params.Set("sslmode", cfg.DBSSLMode)
		params.Set("TimeZone", "UTC")
		params.Set("application_name", cfg.AppName)
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
			Host:     cfg.DBHost + ":" + cfg.DBPort,
			Path:     "/" + cfg.DBName,
			RawQuery: params.Encode(),
		}
		return u.String(), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName), nil
	case "sqlite":
		path := cfg.DBPath
		if path == "" {
			path = "benefits.db"
		}
		return path + "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}
