package database

import (
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"xrechnung-saas/config"
	"xrechnung-saas/models"
)

// Connect ouvre la base (Postgres si DATABASE_URL est fourni, SQLite sinon)
// et applique les migrations automatiques.
// TranslateError convertit les violations de contraintes du driver en
// erreurs GORM (gorm.ErrDuplicatedKey), gérées par la couche API.
func Connect(cfg config.Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	var dialector gorm.Dialector

	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case dsn != "":
		// DSN postgres supposé même sans préfixe de schéma
		dialector = postgres.Open(dsn)
	default:
		dbPath := "xrechnung.db"
		dialector = sqlite.Open(dbPath)
		dsn = dbPath
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info().Str("dsn", dsn).Msg("📦 DB connectée et migrée")
	return db, nil
}

// Migrate applique les migrations automatiques du schéma.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Invoice{},
		&models.LineItem{},
	)
}
