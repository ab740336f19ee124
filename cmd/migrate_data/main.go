package main

import (
	"flag"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"zapflow/internal/config"
	"zapflow/internal/database"
	"zapflow/internal/logger"
	"zapflow/internal/models"
)

const batchSize = 500

// copyTable moves every row of T from src to dst. Rows already present in
// dst are kept, so the tool can be re-run after a partial failure.
func copyTable[T any](src, dst *gorm.DB, table string) {
	var rows []T
	copied := 0
	err := src.Table(table).FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
		err := dst.Transaction(func(tx *gorm.DB) error {
			return tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&rows).Error
		})
		if err != nil {
			return err
		}
		copied += len(rows)
		return nil
	}).Error

	if err != nil {
		log.Error().Err(err).Str("table", table).Int("copied", copied).Msg("Error migrating table")
		return
	}
	log.Info().Str("table", table).Int("rows", copied).Msg("Successfully migrated table")
}

// Copies a SQLite development database into the configured PostgreSQL one.
// Run sync_sequences afterwards.
func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg)

	source := flag.String("source", cfg.DBPath, "SQLite file to read from")
	flag.Parse()

	if cfg.DBDriver != "postgres" {
		log.Fatal().Str("driver", cfg.DBDriver).Msg("Destination must be PostgreSQL; set DB_DRIVER=postgres")
	}

	sqliteDB, err := gorm.Open(sqlite.Open(*source), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to SQLite")
	}
	log.Info().Str("path", *source).Msg("Connected to SQLite")

	database.InitGorm(cfg)
	pgDB := database.GormDB

	log.Info().Msg("Starting data migration...")

	// parents before children
	copyTable[models.Tenant](sqliteDB, pgDB, "tenants")
	copyTable[models.Contact](sqliteDB, pgDB, "contacts")
	copyTable[models.Campaign](sqliteDB, pgDB, "campaigns")
	copyTable[models.CampaignContact](sqliteDB, pgDB, "campaign_contacts")
	copyTable[models.Automation](sqliteDB, pgDB, "automations")
	copyTable[models.AutomationNode](sqliteDB, pgDB, "automation_nodes")
	copyTable[models.BotSession](sqliteDB, pgDB, "bot_sessions")
	copyTable[models.MessageLog](sqliteDB, pgDB, "message_logs")

	log.Info().Msg("Migration completed!")
}
