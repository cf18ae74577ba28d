package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-nbif/internal/models"
)

// Connect opens the token store. postgres:// and postgresql:// DSNs use the
// postgres driver, anything else is treated as a sqlite DSN.
func Connect(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn must not be empty")
	}

	var dialector gorm.Dialector
	driver := "sqlite"
	if isPostgres(dsn) {
		dialector = postgres.Open(dsn)
		driver = "postgres"
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	return db, nil
}

// Migrate creates or updates the tables owned by the server.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.APIToken{}); err != nil {
		return fmt.Errorf("migrate api tokens: %w", err)
	}
	return nil
}

func isPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=")
}
