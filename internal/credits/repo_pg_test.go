package credits

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clearpix/billing-backend/pkg/migrate"
)

// These tests exercise the credit functions themselves and need a real
// postgres (the functions are plpgsql). They skip unless a DSN is provided:
//
//	CLEARPIX_TEST_POSTGRES_DSN=postgres://... go test ./internal/credits/
const pgDSNEnv = "CLEARPIX_TEST_POSTGRES_DSN"

func newPostgresRepo(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()
	dsn := os.Getenv(pgDSNEnv)
	if dsn == "" {
		t.Skipf("set %s to run credit function tests", pgDSNEnv)
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("extracting sql.DB: %v", err)
	}
	if err := migrate.Run(context.Background(), sqlDB, "../../pkg/migrate/migrations", "up"); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return NewRepository(conn), conn
}

func seedProfile(t *testing.T, conn *gorm.DB, subBalance, purBalance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := conn.Exec(
		`INSERT INTO profiles (id, email, stripe_customer_id, subscription_credits_balance, purchased_credits_balance)
		 VALUES (?, ?, ?, ?, ?)`,
		id, id.String()+"@test.local", "cus_"+id.String(), subBalance, purBalance,
	).Error
	if err != nil {
		t.Fatalf("seeding profile: %v", err)
	}
	t.Cleanup(func() {
		conn.Exec(`DELETE FROM credit_transactions WHERE user_id = ?`, id)
		conn.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	})
	return id
}

func subBalanceOf(t *testing.T, conn *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var balance int64
	if err := conn.Raw(`SELECT subscription_credits_balance FROM profiles WHERE id = ?`, userID).Scan(&balance).Error; err != nil {
		t.Fatalf("reading balance: %v", err)
	}
	return balance
}

func ledgerRows(t *testing.T, conn *gorm.DB, userID uuid.UUID, refID string) int64 {
	t.Helper()
	var count int64
	if err := conn.Raw(
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = ? AND ref_id = ?`, userID, refID,
	).Scan(&count).Error; err != nil {
		t.Fatalf("counting transactions: %v", err)
	}
	return count
}

func TestAddSubscriptionCreditsRespectsCap(t *testing.T) {
	repo, conn := newPostgresRepo(t)
	ctx := context.Background()
	userID := seedProfile(t, conn, 1100, 0)

	cap := int64(1200)
	balance, err := repo.AddSubscriptionCredits(ctx, userID, 200, "invoice_cap_1", "cycle renewal", &cap)
	if err != nil {
		t.Fatalf("AddSubscriptionCredits: %v", err)
	}
	if balance != 1200 {
		t.Fatalf("expected balance capped at 1200, got %d", balance)
	}

	var amount int64
	if err := conn.Raw(
		`SELECT amount FROM credit_transactions WHERE user_id = ? AND ref_id = ?`, userID, "invoice_cap_1",
	).Scan(&amount).Error; err != nil {
		t.Fatalf("reading transaction: %v", err)
	}
	if amount != 100 {
		t.Fatalf("expected 100 of 200 credits to fit under the cap, got %d", amount)
	}
}

func TestAddSubscriptionCreditsDedupsOnRefID(t *testing.T) {
	repo, conn := newPostgresRepo(t)
	ctx := context.Background()
	userID := seedProfile(t, conn, 0, 0)

	if _, err := repo.AddSubscriptionCredits(ctx, userID, 200, "invoice_dup_1", "cycle renewal", nil); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	balance, err := repo.AddSubscriptionCredits(ctx, userID, 200, "invoice_dup_1", "cycle renewal", nil)
	if err != nil {
		t.Fatalf("duplicate grant: %v", err)
	}
	if balance != 200 {
		t.Fatalf("expected duplicate grant to be a no-op, balance %d", balance)
	}
	if rows := ledgerRows(t, conn, userID, "invoice_dup_1"); rows != 1 {
		t.Fatalf("expected one ledger row, got %d", rows)
	}
}

func TestClawbackNeverExceedsGrant(t *testing.T) {
	repo, conn := newPostgresRepo(t)
	ctx := context.Background()
	userID := seedProfile(t, conn, 0, 0)

	if _, err := repo.AddSubscriptionCredits(ctx, userID, 500, "invoice_cb_1", "cycle renewal", nil); err != nil {
		t.Fatalf("grant: %v", err)
	}

	first, err := repo.ClawbackFromTransaction(ctx, userID, "invoice_cb_1", "charge refunded")
	if err != nil {
		t.Fatalf("clawback: %v", err)
	}
	if first.CreditsClawedBack != 500 || first.NewBalance != 0 {
		t.Fatalf("expected full clawback of 500, got %+v", first)
	}

	// a second refund event for the same invoice takes nothing more
	second, err := repo.ClawbackFromTransaction(ctx, userID, "invoice_cb_1", "charge refunded")
	if err != nil {
		t.Fatalf("repeat clawback: %v", err)
	}
	if second.CreditsClawedBack != 0 {
		t.Fatalf("expected repeat clawback to take nothing, got %+v", second)
	}
	if balance := subBalanceOf(t, conn, userID); balance != 0 {
		t.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestClawbackLimitedBySpentBalance(t *testing.T) {
	repo, conn := newPostgresRepo(t)
	ctx := context.Background()
	userID := seedProfile(t, conn, 0, 0)

	if _, err := repo.AddSubscriptionCredits(ctx, userID, 500, "invoice_cb_2", "cycle renewal", nil); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// the user spent 400 of the granted credits before the refund
	if err := conn.Exec(
		`UPDATE profiles SET subscription_credits_balance = 100 WHERE id = ?`, userID,
	).Error; err != nil {
		t.Fatalf("spending credits: %v", err)
	}

	row, err := repo.ClawbackFromTransaction(ctx, userID, "invoice_cb_2", "charge refunded")
	if err != nil {
		t.Fatalf("clawback: %v", err)
	}
	if row.CreditsClawedBack != 100 || row.NewBalance != 0 {
		t.Fatalf("expected clawback limited to the 100 on hand, got %+v", row)
	}
}

func TestExpireSubscriptionCreditsDedupsOnCycle(t *testing.T) {
	repo, conn := newPostgresRepo(t)
	ctx := context.Background()
	userID := seedProfile(t, conn, 600, 0)
	cycleEnd := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	expired, err := repo.ExpireSubscriptionCredits(ctx, userID, 400, "cycle rollover", "sub_exp_1", cycleEnd)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 200 {
		t.Fatalf("expected 200 expired down to keep, got %d", expired)
	}
	if _, err := repo.AddSubscriptionCredits(ctx, userID, 200, "invoice_exp_1", "cycle renewal", nil); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if balance := subBalanceOf(t, conn, userID); balance != 600 {
		t.Fatalf("expected balance 600 after renewal, got %d", balance)
	}

	// a redelivered invoice replays the same cycle's expiry; it must not
	// destroy the credits the first delivery granted
	expired, err = repo.ExpireSubscriptionCredits(ctx, userID, 400, "cycle rollover", "sub_exp_1", cycleEnd)
	if err != nil {
		t.Fatalf("repeat expire: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected replayed expiry to be a no-op, got %d", expired)
	}
	if balance := subBalanceOf(t, conn, userID); balance != 600 {
		t.Fatalf("expected balance unchanged at 600, got %d", balance)
	}
}
