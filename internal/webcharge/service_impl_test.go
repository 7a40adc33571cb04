package webcharge_test

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

	chargingdomain "github.com/matinoplay/billing/internal/charging/domain"
	chargingrepo "github.com/matinoplay/billing/internal/charging/repository"
	"github.com/matinoplay/billing/internal/clock"
	partnerdomain "github.com/matinoplay/billing/internal/partner/domain"
	"github.com/matinoplay/billing/internal/webcharge"
)

type stubGateway struct {
	result *partnerdomain.GatewayResult
	err    error

	gotCmd        partnerdomain.Command
	gotSubService string
	gotPrice      int64
}

func (g *stubGateway) Charge(ctx context.Context, msisdn string, cmd partnerdomain.Command, subService string, price int64) (*partnerdomain.GatewayResult, error) {
	g.gotCmd = cmd
	g.gotSubService = subService
	g.gotPrice = price
	return g.result, g.err
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_wc_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

func newTestService(t *testing.T, db *gorm.DB, gateway webcharge.Gateway) webcharge.Service {
	t.Helper()

	node, err := snowflake.NewNode(20)
	require.NoError(t, err)
	return webcharge.NewService(webcharge.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Repo:    chargingrepo.Provide(),
		Gateway: gateway,
	})
}

func assertCount(t *testing.T, db *gorm.DB, table string, want int64) {
	t.Helper()
	var got int64
	require.NoError(t, db.Raw("SELECT COUNT(1) FROM "+table).Scan(&got).Error)
	assert.Equal(t, want, got, table)
}

func TestExecuteRegisterSuccess(t *testing.T) {
	db := setupTestDB(t)
	gateway := &stubGateway{result: &partnerdomain.GatewayResult{
		ResultCode:    "0",
		ResultMessage: "Transaction success",
		TransactionID: "web-txn-001",
	}}
	svc := newTestService(t, db, gateway)

	resp, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959123456789",
		Command:     partnerdomain.CommandRegister,
		PackageName: "DAILY",
		Channel:     "WEB",
	})
	require.NoError(t, err)

	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "0", resp.PartnerCode)
	assert.Equal(t, "web-txn-001", resp.TransactionID)
	require.NotNil(t, resp.ExpireDatetime)
	assert.Equal(t, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC), resp.ExpireDatetime.UTC())
	require.NotNil(t, resp.ChargePrice)
	assert.Equal(t, int64(169), *resp.ChargePrice)

	assert.Equal(t, "SUPER_MATINO_DAILY", gateway.gotSubService)
	assert.Equal(t, int64(169), gateway.gotPrice)

	var status string
	require.NoError(t, db.Raw(`SELECT status FROM customers WHERE msisdn = ?`, "959123456789").Scan(&status).Error)
	assert.Equal(t, "active", status)
	assertCount(t, db, "customer_history", 1)
	assertCount(t, db, "charging_logs", 1)
}

func TestExecuteRegisterFailure(t *testing.T) {
	db := setupTestDB(t)
	gateway := &stubGateway{result: &partnerdomain.GatewayResult{
		ResultCode:    "401",
		ResultMessage: "not enough balance",
		TransactionID: "web-txn-002",
	}}
	svc := newTestService(t, db, gateway)

	resp, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959123456789",
		Command:     partnerdomain.CommandRegister,
		PackageName: "WEEKLY",
		Channel:     "WEB",
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", resp.Status)
	assert.Nil(t, resp.ExpireDatetime)
	assert.Nil(t, resp.ChargePrice)

	assertCount(t, db, "customers", 0)

	var history chargingdomain.CustomerHistory
	require.NoError(t, db.Raw(`SELECT * FROM customer_history WHERE msisdn = ?`, "959123456789").Scan(&history).Error)
	assert.Equal(t, chargingdomain.ResultFailure, history.Result)
	assert.Contains(t, history.Note, "not enough balance")

	var isSuccess int16
	require.NoError(t, db.Raw(`SELECT is_success FROM charging_logs WHERE transaction_id = ?`, "web-txn-002").Scan(&isSuccess).Error)
	assert.Equal(t, chargingdomain.ResultFailure, isSuccess)
}

func TestExecuteCancelSuccess(t *testing.T) {
	db := setupTestDB(t)
	register := &stubGateway{result: &partnerdomain.GatewayResult{
		ResultCode: "0", ResultMessage: "Transaction success", TransactionID: "web-txn-010",
	}}
	svc := newTestService(t, db, register)

	_, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959123456789",
		Command:     partnerdomain.CommandRegister,
		PackageName: "DAILY",
		Channel:     "WEB",
	})
	require.NoError(t, err)

	register.result = &partnerdomain.GatewayResult{
		ResultCode: "0", ResultMessage: "Transaction success", TransactionID: "web-txn-011",
	}
	resp, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959123456789",
		Command:     partnerdomain.CommandCancel,
		PackageName: "DAILY",
		Channel:     "WEB",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)

	assertCount(t, db, "customers", 0)
	assertCount(t, db, "customer_cancellations", 1)
	assertCount(t, db, "customer_history", 2)
}

func TestExecuteChargeRefreshesWindow(t *testing.T) {
	db := setupTestDB(t)
	gateway := &stubGateway{result: &partnerdomain.GatewayResult{
		ResultCode: "0", ResultMessage: "Transaction success", TransactionID: "web-txn-020",
	}}
	svc := newTestService(t, db, gateway)

	resp, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959555666777",
		Command:     partnerdomain.CommandCharge,
		PackageName: "MONTHLY",
		Channel:     "WAP",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.ExpireDatetime)
	assert.Equal(t, time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC), resp.ExpireDatetime.UTC())

	var action string
	require.NoError(t, db.Raw(`SELECT action FROM charging_logs WHERE transaction_id = ?`, "web-txn-020").Scan(&action).Error)
	assert.Equal(t, "one_time", action)
}

func TestExecuteUnknownPackage(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, &stubGateway{})

	_, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959123456789",
		Command:     partnerdomain.CommandRegister,
		PackageName: "YEARLY",
	})
	assert.Error(t, err)
}

func TestExecuteDuplicateTransactionRollsBack(t *testing.T) {
	db := setupTestDB(t)
	gateway := &stubGateway{result: &partnerdomain.GatewayResult{
		ResultCode: "0", ResultMessage: "Transaction success", TransactionID: "web-txn-040",
	}}
	svc := newTestService(t, db, gateway)

	_, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959123456789",
		Command:     partnerdomain.CommandRegister,
		PackageName: "DAILY",
		Channel:     "WEB",
	})
	require.NoError(t, err)

	// Gateway replays the same transaction id for a different user. The
	// whole unit rolls back: no second customer, no stray history row.
	_, err = svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959444555666",
		Command:     partnerdomain.CommandRegister,
		PackageName: "DAILY",
		Channel:     "WEB",
	})
	require.ErrorIs(t, err, webcharge.ErrDuplicateTransaction)

	assertCount(t, db, "customers", 1)
	assertCount(t, db, "customer_history", 1)
	assertCount(t, db, "charging_logs", 1)
}

func TestExecuteUserCancelOutcome(t *testing.T) {
	db := setupTestDB(t)
	gateway := &stubGateway{result: &partnerdomain.GatewayResult{
		ResultCode:    "416",
		ResultMessage: "OTP not exist or timeout",
		TransactionID: "web-txn-030",
	}}
	svc := newTestService(t, db, gateway)

	resp, err := svc.Execute(context.Background(), webcharge.Request{
		Msisdn:      "959123456789",
		Command:     partnerdomain.CommandRegister,
		PackageName: "DAILY",
		Channel:     "WEB",
	})
	require.NoError(t, err)
	assert.Equal(t, "user_cancel", resp.Status)
	assert.Equal(t, "You cancelled the registration.", resp.Message)
	assertCount(t, db, "customers", 0)
}
