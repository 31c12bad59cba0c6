package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenTestDB connects to the integration database, skipping the test unless
// RUN_DB_INTEGRATION is set. Rows created by the test are removed on cleanup;
// the seeded demo users are kept.
func OpenTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, testDSN())
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("db ping failed: %v", err)
	}

	t.Cleanup(func() {
		if err := cleanupTestData(context.Background(), pool); err != nil {
			t.Logf("cleanup: %v", err)
		}
		pool.Close()
	})
	return pool
}

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbEnv("USER", "invest"),
		dbEnv("PASSWORD", "invest"),
		dbEnv("HOST", "localhost"),
		dbEnv("PORT", "5432"),
		dbEnv("NAME", "goinvest_test"),
		dbEnv("SSLMODE", "disable"),
	)
}

// dbEnv reads INVEST_DB_<key>, then the POSTGRES_ equivalent.
func dbEnv(key, defaultValue string) string {
	if v := os.Getenv("INVEST_DB_" + key); v != "" {
		return v
	}
	legacy := "POSTGRES_" + key
	if key == "NAME" {
		legacy = "POSTGRES_DB"
	}
	if v := os.Getenv(legacy); v != "" {
		return v
	}
	return defaultValue
}

func cleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	keep := fmt.Sprintf("('%s','%s')", DemoUserID, InvestorUserID)
	queries := []string{
		"DELETE FROM transactions WHERE user_id NOT IN " + keep,
		"DELETE FROM investments WHERE user_id NOT IN " + keep,
		"DELETE FROM balances WHERE user_id NOT IN " + keep,
		"DELETE FROM wallets WHERE user_id NOT IN " + keep,
		"DELETE FROM investment_plans WHERE name LIKE 'test_%'",
	}
	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}
