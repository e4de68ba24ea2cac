package migration

import (
	"errors"
	"fmt"

	"github.com/BaSui01/memflow/config"
)

// NewMigratorFromConfig builds a migrator from an explicit Config.
func NewMigratorFromConfig(cfg *Config) (Migrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigrator(cfg)
}

// NewMigratorFromDatabaseConfig builds a migrator from the application
// database settings, assembling the connection URL per dialect.
func NewMigratorFromDatabaseConfig(dbCfg *config.DatabaseConfig) (Migrator, error) {
	if dbCfg == nil {
		return nil, errors.New("database config is required")
	}

	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database driver: %w", err)
	}

	var url string
	switch dbType {
	case DatabaseTypeSQLite:
		// For SQLite the Name field is the database file path.
		url = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	default:
		url = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
	})
}

// NewMigratorFromURL builds a migrator from a dialect name and raw URL.
func NewMigratorFromURL(driver, url string) (Migrator, error) {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database driver: %w", err)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
	})
}
