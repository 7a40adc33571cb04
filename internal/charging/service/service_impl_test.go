package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/matinoplay/billing/internal/charging/domain"
	chargingrepo "github.com/matinoplay/billing/internal/charging/repository"
	chargingservice "github.com/matinoplay/billing/internal/charging/service"
	"github.com/matinoplay/billing/internal/clock"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			msisdn TEXT NOT NULL,
			package_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'inactive',
			channel TEXT DEFAULT '0',
			price BIGINT DEFAULT 0,
			current_charged_date TIMESTAMP,
			next_charge_date TIMESTAMP,
			note TEXT DEFAULT '',
			create_date TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX uq_customer_msisdn_package ON customers(msisdn, package_name)`,
		`CREATE TABLE customer_history (
			id BIGINT PRIMARY KEY,
			msisdn TEXT NOT NULL,
			package_name TEXT NOT NULL,
			action TEXT,
			transaction_id TEXT,
			partner_command TEXT,
			channel TEXT DEFAULT '0',
			price BIGINT DEFAULT 0,
			result SMALLINT NOT NULL DEFAULT 0,
			current_charged_date TIMESTAMP,
			next_charge_date TIMESTAMP,
			note TEXT DEFAULT '',
			create_date TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE customer_cancellations (
			id BIGINT PRIMARY KEY,
			msisdn TEXT NOT NULL,
			package_name TEXT NOT NULL,
			channel TEXT DEFAULT '0',
			status SMALLINT NOT NULL DEFAULT 0,
			current_charged_date TIMESTAMP,
			next_charge_date TIMESTAMP,
			create_date TIMESTAMP,
			last_unreg TIMESTAMP,
			cancel_date TIMESTAMP NOT NULL,
			cancel_reason TEXT,
			transaction_id TEXT,
			note TEXT DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE charging_logs (
			id BIGINT PRIMARY KEY,
			action TEXT,
			msisdn TEXT NOT NULL,
			package_code TEXT NOT NULL,
			channel TEXT NOT NULL,
			charge_price BIGINT,
			transaction_id TEXT,
			partner_command TEXT,
			mode TEXT DEFAULT 'REAL',
			is_success SMALLINT DEFAULT 0,
			reg_datetime TIMESTAMP NOT NULL,
			expire_datetime TIMESTAMP,
			raw TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX uq_charging_log_txn ON charging_logs(transaction_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *chargingservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return chargingservice.NewService(chargingservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  chargingrepo.Provide(),
	})
}

func assertCount(t *testing.T, db *gorm.DB, table string, want int64) {
	t.Helper()
	var got int64
	if err := db.Raw("SELECT COUNT(1) FROM " + table).Scan(&got).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	assert.Equal(t, want, got, table)
}

func registerRequest(txn string) domain.CallbackRequest {
	return domain.CallbackRequest{
		Username:      "partner_api",
		Password:      "secret",
		ServiceID:     "SUPER_MATINO_DAILY",
		Msisdn:        "959123456789",
		ChargeTime:    "20250601120000",
		Mode:          "REAL",
		Amount:        169,
		TransactionID: txn,
		Params:        "0",
		Command:       "YES",
	}
}

func TestProcessSubscriptionRegister(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	ack := svc.ProcessSubscription(ctx, registerRequest("txn-reg-001"))
	assert.Equal(t, domain.AckOK, ack)

	var customer domain.Customer
	require.NoError(t, db.Raw(`SELECT * FROM customers WHERE msisdn = ?`, "959123456789").Scan(&customer).Error)
	assert.Equal(t, domain.CustomerStatusActive, customer.Status)
	assert.Equal(t, "DAILY", customer.PackageName)
	assert.Equal(t, "SMS", customer.Channel)
	assert.Equal(t, int64(169), customer.Price)
	require.NotNil(t, customer.NextChargeDate)
	assert.Equal(t,
		time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		customer.NextChargeDate.UTC())

	assertCount(t, db, "customer_history", 1)
	assertCount(t, db, "charging_logs", 1)

	var isSuccess int16
	require.NoError(t, db.Raw(`SELECT is_success FROM charging_logs WHERE transaction_id = ?`, "txn-reg-001").Scan(&isSuccess).Error)
	assert.Equal(t, domain.ResultSuccess, isSuccess)
}

func TestProcessSubscriptionDuplicateTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	first := svc.ProcessSubscription(ctx, registerRequest("txn-dup-001"))
	assert.Equal(t, domain.AckOK, first)

	// Replay with the same transaction id acknowledges without mutating.
	second := svc.ProcessSubscription(ctx, registerRequest("txn-dup-001"))
	assert.Equal(t, domain.AckOK, second)

	assertCount(t, db, "customer_history", 1)
	assertCount(t, db, "charging_logs", 1)
}

func TestRenewalLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	ack := svc.ProcessSubscription(ctx, registerRequest("txn-lc-001"))
	require.Equal(t, domain.AckOK, ack)

	renewFail := domain.CallbackRequest{
		ServiceID:     "SUPER_MATINO_DAILY",
		Msisdn:        "959123456789",
		ChargeTime:    "20250602120000",
		Mode:          "REAL",
		Amount:        169,
		TransactionID: "txn-lc-002",
		Params:        "1",
		Command:       "MONFEE",
	}
	require.Equal(t, domain.AckOK, svc.ProcessRenewal(ctx, renewFail))

	var status string
	require.NoError(t, db.Raw(`SELECT status FROM customers WHERE msisdn = ?`, "959123456789").Scan(&status).Error)
	assert.Equal(t, "inactive", status)

	renewOK := renewFail
	renewOK.TransactionID = "txn-lc-003"
	renewOK.ChargeTime = "20250603120000"
	renewOK.Params = "0"
	require.Equal(t, domain.AckOK, svc.ProcessRenewal(ctx, renewOK))

	var customer domain.Customer
	require.NoError(t, db.Raw(`SELECT * FROM customers WHERE msisdn = ?`, "959123456789").Scan(&customer).Error)
	assert.Equal(t, domain.CustomerStatusActive, customer.Status)
	require.NotNil(t, customer.NextChargeDate)
	assert.Equal(t,
		time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC),
		customer.NextChargeDate.UTC())

	var results []int16
	require.NoError(t, db.Raw(`SELECT result FROM customer_history ORDER BY create_date`).Scan(&results).Error)
	assert.Equal(t, []int16{0, 1, 0}, results)

	// Failed renewal logs zero price.
	var failPrice int64
	require.NoError(t, db.Raw(`SELECT charge_price FROM charging_logs WHERE transaction_id = ?`, "txn-lc-002").Scan(&failPrice).Error)
	assert.Equal(t, int64(0), failPrice)
}

func TestProcessSubscriptionCancel(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	require.Equal(t, domain.AckOK, svc.ProcessSubscription(ctx, registerRequest("txn-cn-001")))

	cancel := registerRequest("txn-cn-002")
	cancel.Params = "1"
	cancel.Command = "OFF"
	assert.Equal(t, domain.AckOK, svc.ProcessSubscription(ctx, cancel))

	assertCount(t, db, "customers", 0)
	assertCount(t, db, "customer_cancellations", 1)
	assertCount(t, db, "customer_history", 2)

	var archived domain.CustomerCancellation
	require.NoError(t, db.Raw(`SELECT * FROM customer_cancellations WHERE msisdn = ?`, "959123456789").Scan(&archived).Error)
	assert.Equal(t, "DAILY", archived.PackageName)
	assert.Equal(t, "txn-cn-002", archived.TransactionID)
	assert.NotNil(t, archived.NextChargeDate)
}

func TestProcessSubscriptionCancelUnknownCustomer(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	cancel := registerRequest("txn-cu-001")
	cancel.Params = "1"
	cancel.Command = "OFF"
	assert.Equal(t, domain.AckOK, svc.ProcessSubscription(ctx, cancel))

	assertCount(t, db, "customer_cancellations", 0)
	assertCount(t, db, "customer_history", 1)
	assertCount(t, db, "charging_logs", 1)
}

func TestProcessContent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	req := domain.CallbackRequest{
		ServiceID:     "MATINO_OTP",
		Msisdn:        "959777888999",
		ChargeTime:    "202506011230",
		Mode:          "REAL",
		Amount:        300,
		TransactionID: "txn-ct-001",
		Params:        "OTP",
	}
	assert.Equal(t, domain.AckOK, svc.ProcessContent(ctx, req))

	assertCount(t, db, "customers", 0)
	assertCount(t, db, "customer_history", 1)

	var history domain.CustomerHistory
	require.NoError(t, db.Raw(`SELECT * FROM customer_history WHERE msisdn = ?`, "959777888999").Scan(&history).Error)
	assert.Equal(t, domain.ActionOneTime, history.Action)
	assert.Equal(t, "OTP", history.PackageName)
	assert.Equal(t, "SMS", history.Channel)
}

func TestCheckSubscription(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newTestService(t, db)

	require.Equal(t, domain.AckOK, svc.ProcessSubscription(ctx, registerRequest("txn-cs-001")))

	weekly := registerRequest("txn-cs-002")
	weekly.ServiceID = "SUPER_MATINO_WEEKLY"
	weekly.Amount = 599
	require.Equal(t, domain.AckOK, svc.ProcessSubscription(ctx, weekly))

	subs, err := svc.CheckSubscription(ctx, "959123456789")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "DAILY", subs[0].PackageName)
	assert.Equal(t, "WEEKLY", subs[1].PackageName)
	for _, sub := range subs {
		assert.Equal(t, "active", sub.Status)
		assert.NotNil(t, sub.NextChargeDate)
	}

	none, err := svc.CheckSubscription(ctx, "959000000000")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedgerInsertTaggedOutcome(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := chargingrepo.Provide()

	node, err := snowflake.NewNode(12)
	require.NoError(t, err)

	row := &domain.ChargingLog{
		ID:            node.Generate(),
		Action:        domain.ActionRegister,
		Msisdn:        "959123456789",
		PackageCode:   "DAILY",
		Channel:       "SMS",
		ChargePrice:   169,
		TransactionID: "txn-ledger-001",
		Mode:          domain.ModeReal,
		RegDatetime:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	outcome, err := repo.InsertChargingLog(ctx, db, row)
	require.NoError(t, err)
	assert.Equal(t, domain.Applied, outcome)

	replay := *row
	replay.ID = node.Generate()
	outcome, err = repo.InsertChargingLog(ctx, db, &replay)
	require.NoError(t, err)
	assert.Equal(t, domain.AlreadyApplied, outcome)

	assertCount(t, db, "charging_logs", 1)
}
