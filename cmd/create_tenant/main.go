package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"zapflow/internal/config"
	"zapflow/internal/database"
	"zapflow/internal/logger"
	"zapflow/internal/models"
	"zapflow/internal/store"
)

// Provisions a tenant with the quotas of its plan and prints its id, which
// clients send in the X-Tenant-ID header.
func main() {
	name := flag.String("name", "", "tenant display name")
	email := flag.String("email", "", "owner email, unique per tenant")
	plan := flag.String("plan", "trial", "trial, basic, pro or enterprise")
	flag.Parse()

	cfg := config.LoadConfig()
	logger.Init(cfg)

	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*email) == "" {
		log.Fatal().Msg("-name and -email are required")
	}

	tenant := &models.Tenant{
		Name:     strings.TrimSpace(*name),
		Email:    strings.ToLower(strings.TrimSpace(*email)),
		Status:   models.TenantTrial,
		WAStatus: models.WADisconnected,
	}
	if !tenant.ApplyPlan(*plan) {
		log.Fatal().Str("plan", *plan).Msg("Unknown plan")
	}
	if *plan != "trial" {
		tenant.Status = models.TenantActive
	}

	database.InitGorm(cfg)
	if err := store.New(database.GormDB).CreateTenant(context.Background(), tenant); err != nil {
		log.Fatal().Err(err).Msg("Failed to create tenant")
	}

	log.Info().Str("tenant_id", tenant.ID).Str("plan", tenant.Plan).Msg("Tenant created")
	fmt.Println(tenant.ID)
}
