package domain

import (
	"context"
	"time"
)

// Ack is the only thing the partner ever sees: "0" acknowledges, "1"
// rejects. Internal failure detail stays internal.
type Ack string

const (
	AckOK   Ack = "0"
	AckFail Ack = "1"
)

// CallbackRequest carries the fields every partner callback shares. Params
// and Command are interpreted per endpoint: subscription callbacks use
// Params 0/1 for register/cancel with SMS or USSD commands, renewal results
// arrive with Command MONFEE, content purchases use Params OTP.
type CallbackRequest struct {
	Username      string `json:"username" form:"username"`
	Password      string `json:"password" form:"password"`
	ServiceID     string `json:"serviceid" form:"serviceid"`
	Msisdn        string `json:"msisdn" form:"msisdn"`
	ChargeTime    string `json:"chargetime" form:"chargetime"`
	Mode          string `json:"mode" form:"mode"`
	Amount        int64  `json:"amount" form:"amount"`
	TransactionID string `json:"transactionid" form:"transactionid"`
	Params        string `json:"params" form:"params"`
	Command       string `json:"command" form:"command"`
}

// ActiveSubscription is one row of a subscription status check.
type ActiveSubscription struct {
	PackageName    string     `json:"package_name"`
	Status         string     `json:"status"`
	Channel        string     `json:"channel"`
	Price          int64      `json:"price"`
	NextChargeDate *time.Time `json:"next_charge_date"`
}

// Service orchestrates partner callbacks against the subscription ledger.
type Service interface {
	ProcessSubscription(ctx context.Context, req CallbackRequest) Ack
	ProcessRenewal(ctx context.Context, req CallbackRequest) Ack
	ProcessContent(ctx context.Context, req CallbackRequest) Ack
	CheckSubscription(ctx context.Context, msisdn string) ([]ActiveSubscription, error)
}
