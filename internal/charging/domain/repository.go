package domain

import (
	"context"

	"gorm.io/gorm"
)

// InsertOutcome tags the result of an idempotent ledger insert so callers
// branch on data instead of parsing driver errors.
type InsertOutcome int

const (
	Applied InsertOutcome = iota
	AlreadyApplied
)

// Repository is the persistence contract for the subscription ledger. Every
// method takes the *gorm.DB it should run on, so services can pass a
// transaction handle and keep multi-row transitions atomic.
type Repository interface {
	FindCustomer(ctx context.Context, db *gorm.DB, msisdn, packageName string) (*Customer, error)
	FindActiveCustomers(ctx context.Context, db *gorm.DB, msisdn string) ([]Customer, error)
	UpsertCustomer(ctx context.Context, db *gorm.DB, customer *Customer) error
	DeleteCustomer(ctx context.Context, db *gorm.DB, msisdn, packageName string) error

	InsertHistory(ctx context.Context, db *gorm.DB, row *CustomerHistory) error
	InsertCancellation(ctx context.Context, db *gorm.DB, row *CustomerCancellation) error

	FindChargingLog(ctx context.Context, db *gorm.DB, transactionID string) (*ChargingLog, error)
	InsertChargingLog(ctx context.Context, db *gorm.DB, row *ChargingLog) (InsertOutcome, error)
}
