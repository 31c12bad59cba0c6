package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AfshinJalili/goinvest/libs/apikey"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	demoUserID     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	investorUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func main() {
	env := getEnv("INVEST_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: INVEST_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "goinvest")
	user := getEnv("POSTGRES_USER", "invest")
	password := getEnv("POSTGRES_PASSWORD", "invest")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedWallets(ctx, pool); err != nil {
		log.Fatalf("seed wallets: %v", err)
	}
	fmt.Println("✓ Wallets seeded")

	if err := seedBalances(ctx, pool); err != nil {
		log.Fatalf("seed balances: %v", err)
	}
	fmt.Println("✓ Balances seeded")

	if err := seedPlans(ctx, pool); err != nil {
		log.Fatalf("seed plans: %v", err)
	}
	fmt.Println("✓ Investment plans seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("  Demo user:     %s\n", demoUserID)
	fmt.Printf("  Investor user: %s\n", investorUserID)

	if env == "dev" {
		fmt.Println("\nGateway webhook key (DEV ONLY, set INVEST_WEBHOOK_API_KEYS):")
		fmt.Printf("  %s\n", gatewayKey(env))
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// gatewayKey mints a webhook key for the sandbox gateway. The wallet service
// holds webhook keys in its config, so nothing is stored here.
func gatewayKey(env string) string {
	key, _, _, err := apikey.Generate(env)
	if err != nil {
		log.Fatalf("generate gateway key: %v", err)
	}
	return key
}

func seedWallets(ctx context.Context, pool *pgxpool.Pool) error {
	wallets := map[uuid.UUID]uuid.UUID{
		demoUserID:     uuid.MustParse("00000000-0000-0000-0000-000000000101"),
		investorUserID: uuid.MustParse("00000000-0000-0000-0000-000000000102"),
	}
	now := time.Now()
	for userID, walletID := range wallets {
		_, err := pool.Exec(ctx, `
			INSERT INTO wallets (id, user_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, walletID, userID, now)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedBalances(ctx context.Context, pool *pgxpool.Pool) error {
	balances := map[uuid.UUID]map[string]string{
		demoUserID: {
			"BTC":  "1",
			"ETH":  "10",
			"USD":  "25000",
			"EUR":  "5000",
			"USDT": "10000",
		},
		investorUserID: {
			"BTC": "5",
			"ETH": "50",
			"USD": "100000",
		},
	}

	now := time.Now()
	for userID, byCurrency := range balances {
		for cur, amount := range byCurrency {
			_, err := pool.Exec(ctx, `
				INSERT INTO balances (user_id, currency, available, locked, updated_at)
				VALUES ($1, $2, $3, 0, $4)
				ON CONFLICT (user_id, currency) DO UPDATE
				SET available = EXCLUDED.available,
				    locked = 0,
				    updated_at = EXCLUDED.updated_at
			`, userID, cur, amount, now)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func seedPlans(ctx context.Context, pool *pgxpool.Pool) error {
	plans := []struct {
		name           string
		annualRate     string
		minAmount      string
		managementFee  string
		performanceFee string
	}{
		{"short", "0.08", "100", "0.01", "0.10"},
		{"mid", "0.12", "1000", "0.015", "0.15"},
		{"long", "0.15", "5000", "0.02", "0.20"},
	}

	now := time.Now()
	for _, p := range plans {
		_, err := pool.Exec(ctx, `
			INSERT INTO investment_plans (name, annual_rate, min_amount, management_fee_rate, performance_fee_rate, active, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, $6)
			ON CONFLICT (name) DO UPDATE
			SET annual_rate = EXCLUDED.annual_rate,
			    min_amount = EXCLUDED.min_amount,
			    management_fee_rate = EXCLUDED.management_fee_rate,
			    performance_fee_rate = EXCLUDED.performance_fee_rate,
			    active = true,
			    updated_at = EXCLUDED.updated_at
		`, p.name, p.annualRate, p.minAmount, p.managementFee, p.performanceFee, now)
		if err != nil {
			return err
		}
	}
	return nil
}
