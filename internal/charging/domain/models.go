// Package domain contains persistence models and contracts for the
// subscription ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CustomerStatus represents lifecycle states for a subscribed msisdn.
type CustomerStatus string

const (
	CustomerStatusInactive  CustomerStatus = "inactive"
	CustomerStatusActive    CustomerStatus = "active"
	CustomerStatusPending   CustomerStatus = "pending"
	CustomerStatusCancelled CustomerStatus = "cancelled"
)

// Action classifies a charging event.
type Action string

const (
	ActionRegister Action = "register"
	ActionCancel   Action = "cancel"
	ActionRenew    Action = "renew"
	ActionOneTime  Action = "one_time"
)

// Result values on history rows.
const (
	ResultSuccess int16 = 0
	ResultFailure int16 = 1
)

// Charge modes on ledger rows. ModeError marks best-effort failure records.
const (
	ModeReal      = "REAL"
	ModePromotion = "PROMOTION"
	ModeError     = "ERROR"
)

// Customer is a live subscription row, unique per (msisdn, package).
type Customer struct {
	ID                 snowflake.ID   `gorm:"primaryKey"`
	Msisdn             string         `gorm:"type:varchar(20);not null;index;uniqueIndex:uq_customer_msisdn_package"`
	PackageName        string         `gorm:"type:varchar(30);not null;index;uniqueIndex:uq_customer_msisdn_package"`
	Status             CustomerStatus `gorm:"type:text;not null;default:inactive"`
	Channel            string         `gorm:"type:varchar(20);default:0"`
	Price              int64          `gorm:"default:0"`
	CurrentChargedDate *time.Time     `gorm:""`
	NextChargeDate     *time.Time     `gorm:""`
	Note               string         `gorm:"type:varchar(255);default:''"`
	CreateDate         time.Time      `gorm:"not null"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

// CustomerHistory is the append-only audit trail: one row per attempted
// transition, success or failure.
type CustomerHistory struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	Msisdn             string       `gorm:"type:varchar(20);not null;index"`
	PackageName        string       `gorm:"type:varchar(30);not null;index"`
	Action             Action       `gorm:"type:varchar(20)"`
	TransactionID      string       `gorm:"type:varchar(100);index"`
	PartnerCommand     string       `gorm:"type:varchar(20)"`
	Channel            string       `gorm:"type:varchar(20);default:0"`
	Price              int64        `gorm:"default:0"`
	Result             int16        `gorm:"not null;default:0"`
	CurrentChargedDate *time.Time   `gorm:""`
	NextChargeDate     *time.Time   `gorm:""`
	Note               string       `gorm:"type:varchar(255);default:''"`
	CreateDate         time.Time    `gorm:"not null"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CustomerHistory) TableName() string { return "customer_history" }

// CustomerCancellation snapshots a customer at cancellation time, before the
// live row is deleted.
type CustomerCancellation struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	Msisdn             string       `gorm:"type:varchar(20);not null;index"`
	PackageName        string       `gorm:"type:varchar(30);not null;index"`
	Channel            string       `gorm:"type:varchar(20);default:0"`
	Status             int16        `gorm:"not null;default:0"`
	CurrentChargedDate *time.Time   `gorm:""`
	NextChargeDate     *time.Time   `gorm:""`
	CreateDate         *time.Time   `gorm:""`
	LastUnreg          *time.Time   `gorm:""`
	CancelDate         time.Time    `gorm:"not null"`
	CancelReason       string       `gorm:"type:varchar(255)"`
	TransactionID      string       `gorm:"type:varchar(100)"`
	Note               string       `gorm:"type:varchar(255);default:''"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CustomerCancellation) TableName() string { return "customer_cancellations" }

// ChargingLog is the idempotency ledger. TransactionID carries a unique
// constraint; the repository inserts with ON CONFLICT DO NOTHING so replays
// are detected in data rather than by error.
type ChargingLog struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	Action         Action            `gorm:"type:varchar(20)"`
	Msisdn         string            `gorm:"type:varchar(20);not null;index"`
	PackageCode    string            `gorm:"type:varchar(50);not null;index"`
	Channel        string            `gorm:"type:varchar(20);not null"`
	ChargePrice    int64             `gorm:""`
	TransactionID  string            `gorm:"type:varchar(100);uniqueIndex:uq_charging_log_txn"`
	PartnerCommand string            `gorm:"type:varchar(20)"`
	Mode           string            `gorm:"type:varchar(20);default:REAL"`
	IsSuccess      int16             `gorm:"default:0"`
	RegDatetime    time.Time         `gorm:"not null"`
	ExpireDatetime *time.Time        `gorm:""`
	Raw            datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ChargingLog) TableName() string { return "charging_logs" }
