package webcharge

import (
	"context"
	"errors"
	"time"

	partnerdomain "github.com/matinoplay/billing/internal/partner/domain"
)

// ErrDuplicateTransaction aborts the persistence unit when the gateway hands
// back a transaction id the ledger already holds; nothing is committed.
var ErrDuplicateTransaction = errors.New("duplicate_transaction")

// Request is one outbound charge issued on behalf of a web or WAP user.
type Request struct {
	Msisdn      string                `json:"msisdn" binding:"required"`
	Command     partnerdomain.Command `json:"cmd" binding:"required"`
	PackageName string                `json:"package_name" binding:"required"`
	Channel     string                `json:"channel"`
}

// Response reports the gateway outcome plus what it means for the user.
type Response struct {
	Status         string     `json:"status"`
	Message        string     `json:"message"`
	PartnerCode    string     `json:"partner_code"`
	PartnerMessage string     `json:"partner_message"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	ExpireDatetime *time.Time `json:"expire_datetime,omitempty"`
	ChargePrice    *int64     `json:"charge_price,omitempty"`
}

// Service executes web charges: one gateway call, then the same ledger
// writes the callback path makes, in one transaction.
type Service interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Gateway is the slice of the partner client this package needs.
type Gateway interface {
	Charge(ctx context.Context, msisdn string, cmd partnerdomain.Command, subService string, price int64) (*partnerdomain.GatewayResult, error)
}
