package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/matinoplay/billing/internal/charging/domain"
	"github.com/matinoplay/billing/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindCustomer(ctx context.Context, gdb *gorm.DB, msisdn, packageName string) (*domain.Customer, error) {
	var item domain.Customer
	err := gdb.WithContext(ctx).Raw(
		`SELECT id, msisdn, package_name, status, channel, price,
			current_charged_date, next_charge_date, note, create_date,
			created_at, updated_at
		 FROM customers
		 WHERE msisdn = ? AND package_name = ?
		 LIMIT 1`,
		msisdn,
		packageName,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindActiveCustomers(ctx context.Context, gdb *gorm.DB, msisdn string) ([]domain.Customer, error) {
	var items []domain.Customer
	err := gdb.WithContext(ctx).Raw(
		`SELECT id, msisdn, package_name, status, channel, price,
			current_charged_date, next_charge_date, note, create_date,
			created_at, updated_at
		 FROM customers
		 WHERE msisdn = ? AND status = ?
		 ORDER BY package_name`,
		msisdn,
		domain.CustomerStatusActive,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpsertCustomer inserts or refreshes the live row for (msisdn, package).
func (r *repo) UpsertCustomer(ctx context.Context, gdb *gorm.DB, customer *domain.Customer) error {
	return gdb.WithContext(ctx).Exec(
		`INSERT INTO customers (
			id, msisdn, package_name, status, channel, price,
			current_charged_date, next_charge_date, note, create_date,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (msisdn, package_name) DO UPDATE SET
			status = excluded.status,
			channel = excluded.channel,
			price = excluded.price,
			current_charged_date = excluded.current_charged_date,
			next_charge_date = excluded.next_charge_date,
			note = excluded.note,
			updated_at = CURRENT_TIMESTAMP`,
		customer.ID,
		customer.Msisdn,
		customer.PackageName,
		customer.Status,
		customer.Channel,
		customer.Price,
		customer.CurrentChargedDate,
		customer.NextChargeDate,
		customer.Note,
		customer.CreateDate,
	).Error
}

func (r *repo) DeleteCustomer(ctx context.Context, gdb *gorm.DB, msisdn, packageName string) error {
	return gdb.WithContext(ctx).Exec(
		`DELETE FROM customers WHERE msisdn = ? AND package_name = ?`,
		msisdn,
		packageName,
	).Error
}

func (r *repo) InsertHistory(ctx context.Context, gdb *gorm.DB, row *domain.CustomerHistory) error {
	return gdb.WithContext(ctx).Exec(
		`INSERT INTO customer_history (
			id, msisdn, package_name, action, transaction_id, partner_command,
			channel, price, result, current_charged_date, next_charge_date,
			note, create_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		row.ID,
		row.Msisdn,
		row.PackageName,
		row.Action,
		row.TransactionID,
		row.PartnerCommand,
		row.Channel,
		row.Price,
		row.Result,
		row.CurrentChargedDate,
		row.NextChargeDate,
		row.Note,
		row.CreateDate,
	).Error
}

func (r *repo) InsertCancellation(ctx context.Context, gdb *gorm.DB, row *domain.CustomerCancellation) error {
	return gdb.WithContext(ctx).Exec(
		`INSERT INTO customer_cancellations (
			id, msisdn, package_name, channel, status,
			current_charged_date, next_charge_date, create_date, last_unreg,
			cancel_date, cancel_reason, transaction_id, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		row.ID,
		row.Msisdn,
		row.PackageName,
		row.Channel,
		row.Status,
		row.CurrentChargedDate,
		row.NextChargeDate,
		row.CreateDate,
		row.LastUnreg,
		row.CancelDate,
		row.CancelReason,
		row.TransactionID,
		row.Note,
	).Error
}

func (r *repo) FindChargingLog(ctx context.Context, gdb *gorm.DB, transactionID string) (*domain.ChargingLog, error) {
	if transactionID == "" {
		return nil, nil
	}
	var item domain.ChargingLog
	err := gdb.WithContext(ctx).Raw(
		`SELECT id, action, msisdn, package_code, channel, charge_price,
			transaction_id, partner_command, mode, is_success,
			reg_datetime, expire_datetime, raw, created_at, updated_at
		 FROM charging_logs
		 WHERE transaction_id = ?
		 LIMIT 1`,
		transactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertChargingLog writes one ledger row. A replayed transaction id hits
// the unique constraint and reports AlreadyApplied through rows-affected;
// a racing duplicate surfacing as a driver error is classified the same way.
func (r *repo) InsertChargingLog(ctx context.Context, gdb *gorm.DB, row *domain.ChargingLog) (domain.InsertOutcome, error) {
	res := gdb.WithContext(ctx).Exec(
		`INSERT INTO charging_logs (
			id, action, msisdn, package_code, channel, charge_price,
			transaction_id, partner_command, mode, is_success,
			reg_datetime, expire_datetime, raw, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (transaction_id) DO NOTHING`,
		row.ID,
		row.Action,
		row.Msisdn,
		row.PackageCode,
		row.Channel,
		row.ChargePrice,
		row.TransactionID,
		row.PartnerCommand,
		row.Mode,
		row.IsSuccess,
		row.RegDatetime,
		row.ExpireDatetime,
		row.Raw,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return domain.AlreadyApplied, nil
		}
		return domain.Applied, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.AlreadyApplied, nil
	}
	return domain.Applied, nil
}
