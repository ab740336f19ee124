package main

import (
	"context"
	"flag"

	"github.com/rs/zerolog/log"

	"zapflow/internal/automation"
	"zapflow/internal/config"
	"zapflow/internal/database"
	"zapflow/internal/logger"
	"zapflow/internal/models"
	"zapflow/internal/store"
)

// Renumbers automation nodes left with gaps or duplicate order indices and
// drops menu options that point nowhere.
func main() {
	dryRun := flag.Bool("dry-run", false, "report broken automations without saving")
	flag.Parse()

	cfg := config.LoadConfig()
	logger.Init(cfg)
	database.InitGorm(cfg)
	st := store.New(database.GormDB)
	ctx := context.Background()

	log.Info().Bool("dry_run", *dryRun).Msg("Checking automation node graphs...")

	checked, repaired := 0, 0
	err := st.EachAutomation(ctx, 100, func(a *models.Automation) error {
		checked++
		nodes, changed := automation.Repair(a.Nodes)
		if !changed {
			return nil
		}
		flowLog := log.With().Str("automation_id", a.ID).Str("tenant_id", a.TenantID).Logger()
		flowLog.Warn().Int("nodes_before", len(a.Nodes)).Int("nodes_after", len(nodes)).Msg("Broken node graph")
		repaired++
		if *dryRun {
			return nil
		}
		a.Nodes = nodes
		if err := st.ReplaceAutomation(ctx, a); err != nil {
			flowLog.Error().Err(err).Msg("Failed to save repaired automation")
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error scanning automations")
	}

	log.Info().Int("checked", checked).Int("repaired", repaired).Msg("Done!")
}
