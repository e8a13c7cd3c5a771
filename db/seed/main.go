// Seeds a demo tenant with a handful of leads so the pipeline can be
// exercised locally end to end.
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/repository"
	"github.com/zapleads/crm-service/internal/service"
	"github.com/zapleads/crm-service/internal/tenantdb"
	"github.com/zapleads/crm-service/pkg/crypto"
	"github.com/zapleads/crm-service/pkg/database"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := environments.Load()

	if cfg.Crypto.Secret == "" {
		log.Fatalf("ENCRYPTION_SECRET is required but not set")
	}

	centralDB, err := database.NewCentralDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to central database: %v", err)
	}

	defer func() {
		if err := centralDB.Close(); err != nil {
			log.Printf("Failed to close central database: %v", err)
		}
	}()

	if err := database.RunCentralMigrations(centralDB); err != nil {
		log.Fatalf("Failed to run central migrations: %v", err)
	}

	cipher := crypto.New(cfg.Crypto.Secret)
	router := tenantdb.NewRouter(cfg.Worker.PoolCacheSize)
	defer router.Close()

	tenantRepo := repository.NewTenantRepository(centralDB)
	tenants := service.NewTenantService(tenantRepo, router, cipher, nil, cfg.Evolution)

	ctx := context.Background()

	tenantDSN := environments.GetEnv("SEED_TENANT_DSN", "zapleads:zapleads123@tcp(localhost:3306)/tenant_demo?parseTime=true")

	account, err := tenants.ProvisionTenant(
		ctx,
		environments.GetEnv("SEED_TENANT_NAME", "demo"),
		tenantDSN,
		environments.GetEnv("SEED_INSTANCE_NAME", "instance-demo"),
		environments.GetEnv("SEED_INSTANCE_API_KEY", "demo-api-key"),
		environments.GetEnv("SEED_AGENT_PHONE", "+5511900000000"),
	)
	if err != nil {
		log.Fatalf("Failed to provision demo tenant: %v", err)
	}

	db, err := router.Get(tenantDSN)
	if err != nil {
		log.Fatalf("Failed to open demo tenant database: %v", err)
	}

	crm := repository.NewCRMRepository(db)

	leads := []struct {
		name     string
		phone    string
		interest string
		tag      domain.LeadTag
	}{
		{"Maria Souza", "+5511911111111", "Plano anual", domain.TagNew},
		{"Paulo Lima", "+5511922222222", "Upgrade de plano", domain.TagQualification},
		{"Ana Castro", "+5511933333333", "Proposta enviada", domain.TagProposal},
	}

	for _, l := range leads {
		existing, err := crm.GetLeadByPhone(ctx, l.phone)
		if err != nil {
			log.Fatalf("Failed to check lead %s: %v", l.phone, err)
		}
		if existing != nil {
			continue
		}

		if _, err := crm.CreateLead(ctx, l.name, l.phone, l.interest, l.tag); err != nil {
			log.Fatalf("Failed to create lead %s: %v", l.phone, err)
		}
	}

	log.Printf("Seed completed successfully (tenant %q, account %d)", account.Name, account.ID)
}
