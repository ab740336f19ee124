package main

import (
	"github.com/rs/zerolog/log"

	"zapflow/internal/config"
	"zapflow/internal/database"
	"zapflow/internal/logger"
)

// Tables keyed by an auto-increment id. Rows copied in with explicit ids
// leave the Postgres sequence behind.
var tables = []string{
	"campaign_contacts",
	"message_logs",
	"bot_sessions",
}

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg)
	if cfg.DBDriver != "postgres" {
		log.Fatal().Str("driver", cfg.DBDriver).Msg("Sequences only exist on PostgreSQL")
	}
	database.InitGorm(cfg)
	db := database.GormDB

	log.Info().Msg("Syncing PostgreSQL sequences...")

	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			log.Error().Err(err).Str("table", table).Msg("Error syncing sequence")
		} else {
			log.Info().Str("table", table).Msg("Successfully synced sequence")
		}
	}

	log.Info().Msg("DONE!")
}
