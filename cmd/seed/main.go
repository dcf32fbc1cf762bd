package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-subscription-billing/internal/config"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/repository"
	pg "mpesa-subscription-billing/internal/infra/db/postgres"
	"mpesa-subscription-billing/internal/infra/security"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	demo := flag.Bool("demo", false, "also seed a demo business and owner")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planRepo := pg.NewPlanRepo(pool)

	// If plans already exist, do nothing
	plans, err := planRepo.List(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(plans) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(plans))
		for _, p := range plans {
			fmt.Printf("  - %s (monthly=%d, yearly=%d KES)\n", p.Name, p.PriceMonthly, p.PriceYearly)
		}
	} else {
		now := time.Now()
		seed := []*model.BillingPlan{
			{ID: uuid.NewString(), Name: "Starter", PriceMonthly: 1_500, PriceYearly: 15_000,
				Features: []string{"1 till", "basic reports"}, CreatedAt: now, UpdatedAt: now},
			{ID: uuid.NewString(), Name: "Growth", PriceMonthly: 3_500, PriceYearly: 35_000,
				Features: []string{"3 tills", "full reports", "email support"}, CreatedAt: now, UpdatedAt: now},
			{ID: uuid.NewString(), Name: "Scale", PriceMonthly: 9_000, PriceYearly: 90_000,
				Features: []string{"unlimited tills", "full reports", "priority support"}, CreatedAt: now, UpdatedAt: now},
		}
		for _, p := range seed {
			if err := planRepo.Save(ctx, repository.NoTX, p); err != nil {
				log.Fatalf("create plan %q: %v", p.Name, err)
			}
			fmt.Printf("seeded: %s (id=%s, monthly=%d KES)\n", p.Name, p.ID, p.PriceMonthly)
		}
	}

	if *demo {
		seedDemo(ctx, cfg, pool)
	}

	fmt.Println("✅ Seeding complete.")
}

// seedDemo creates one inactive business with an inactive owner so the full
// initiate/callback/activate loop can be exercised against sandbox Daraja.
func seedDemo(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) {
	encKey := cfg.Security.EncryptionKey
	if len(encKey) != 32 {
		encKey = "0123456789abcdef0123456789abcdef"
	}
	cipher, err := security.NewCredentialCipher(encKey)
	if err != nil {
		log.Fatalf("credential cipher: %v", err)
	}

	userRepo := pg.NewUserRepo(pool)
	businessRepo := pg.NewBusinessRepo(pool, cipher)

	now := time.Now()
	owner := &model.User{
		ID:        uuid.NewString(),
		Phone:     "254708374149", // Daraja sandbox test MSISDN
		Email:     "owner@example.com",
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := userRepo.Save(ctx, repository.NoTX, owner); err != nil {
		log.Fatalf("seed owner: %v", err)
	}

	business := &model.Business{
		ID:        uuid.NewString(),
		Name:      "Demo Duka",
		OwnerID:   owner.ID,
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := businessRepo.Save(ctx, repository.NoTX, business); err != nil {
		log.Fatalf("seed business: %v", err)
	}

	fmt.Printf("seeded demo business %s (owner %s)\n", business.ID, owner.ID)
}
