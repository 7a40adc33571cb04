package webcharge

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/matinoplay/billing/internal/catalog"
	chargingdomain "github.com/matinoplay/billing/internal/charging/domain"
	"github.com/matinoplay/billing/internal/clock"
	obsmetrics "github.com/matinoplay/billing/internal/observability/metrics"
	partnerdomain "github.com/matinoplay/billing/internal/partner/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       chargingdomain.Repository
	Gateway    Gateway
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type serviceImpl struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       chargingdomain.Repository
	gateway    Gateway
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) Service {
	return &serviceImpl{
		db:         p.DB,
		log:        p.Log.Named("webcharge.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateway:    p.Gateway,
		obsMetrics: p.ObsMetrics,
	}
}

// Execute validates the package, runs the gateway call to completion and
// applies the persistence writes the outcome demands. There is no retry
// here; an in-flight call runs to its timeout.
func (s *serviceImpl) Execute(ctx context.Context, req Request) (*Response, error) {
	pkg, err := catalog.Lookup(req.PackageName)
	if err != nil {
		return nil, err
	}
	if !req.Command.Valid() {
		return nil, partnerdomain.ErrInvalidCommand
	}

	logger := s.log.With(
		zap.String("msisdn", req.Msisdn),
		zap.String("cmd", string(req.Command)),
		zap.String("package", pkg.Name),
	)

	start := time.Now()
	result, err := s.gateway.Charge(ctx, req.Msisdn, req.Command, pkg.SubService, pkg.Price)
	if err != nil {
		return nil, err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordGatewayCall(string(req.Command), result.ResultCode, time.Since(start))
	}

	outcome := result.Outcome()
	now := s.clock.Now()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applyOutcome(ctx, tx, req, pkg, result, outcome, now)
	}); err != nil {
		logger.Error("web charge persistence failed", zap.Error(err))
		return nil, err
	}

	resp := &Response{
		Status:         string(outcome),
		Message:        userMessage(req.Command, outcome),
		PartnerCode:    result.ResultCode,
		PartnerMessage: result.ResultMessage,
		TransactionID:  result.TransactionID,
	}
	if outcome == partnerdomain.OutcomeSuccess {
		expire := now.AddDate(0, 0, pkg.DurationDays)
		resp.ExpireDatetime = &expire
		price := pkg.Price
		resp.ChargePrice = &price
	}

	logger.Info("web charge complete",
		zap.String("outcome", string(outcome)),
		zap.String("partner_code", result.ResultCode),
	)
	return resp, nil
}

func (s *serviceImpl) applyOutcome(ctx context.Context, tx *gorm.DB, req Request, pkg catalog.Package, result *partnerdomain.GatewayResult, outcome partnerdomain.Outcome, now time.Time) error {
	if outcome != partnerdomain.OutcomeSuccess {
		return s.applyFailure(ctx, tx, req, pkg, result, now)
	}

	switch req.Command {
	case partnerdomain.CommandRegister:
		return s.applyActivation(ctx, tx, req, pkg, result, now,
			chargingdomain.ActionRegister, "Web charge - Registration successful")
	case partnerdomain.CommandCharge:
		return s.applyActivation(ctx, tx, req, pkg, result, now,
			chargingdomain.ActionOneTime, "Web charge - Charge successful")
	case partnerdomain.CommandCancel:
		return s.applyCancel(ctx, tx, req, pkg, result, now)
	}
	return partnerdomain.ErrInvalidCommand
}

// applyActivation covers both REGISTER and CHARGE success: the live row
// becomes active with a fresh charge window.
func (s *serviceImpl) applyActivation(ctx context.Context, tx *gorm.DB, req Request, pkg catalog.Package, result *partnerdomain.GatewayResult, now time.Time, action chargingdomain.Action, note string) error {
	expire := now.AddDate(0, 0, pkg.DurationDays)

	existing, err := s.repo.FindCustomer(ctx, tx, req.Msisdn, pkg.Name)
	if err != nil {
		return err
	}
	customer := &chargingdomain.Customer{
		Msisdn:             req.Msisdn,
		PackageName:        pkg.Name,
		Status:             chargingdomain.CustomerStatusActive,
		Channel:            req.Channel,
		Price:              pkg.Price,
		CurrentChargedDate: &now,
		NextChargeDate:     &expire,
		Note:               note,
		CreateDate:         now,
	}
	if existing != nil {
		customer.ID = existing.ID
		customer.CreateDate = existing.CreateDate
	} else {
		customer.ID = s.genID.Generate()
	}
	if err := s.repo.UpsertCustomer(ctx, tx, customer); err != nil {
		return err
	}

	if err := s.repo.InsertHistory(ctx, tx, &chargingdomain.CustomerHistory{
		ID:                 s.genID.Generate(),
		Msisdn:             req.Msisdn,
		PackageName:        pkg.Name,
		Action:             action,
		TransactionID:      result.TransactionID,
		PartnerCommand:     string(req.Command),
		Channel:            req.Channel,
		Price:              pkg.Price,
		Result:             chargingdomain.ResultSuccess,
		CurrentChargedDate: &now,
		NextChargeDate:     &expire,
		Note:               note,
		CreateDate:         now,
	}); err != nil {
		return err
	}

	return s.writeLedger(ctx, tx, &chargingdomain.ChargingLog{
		ID:             s.genID.Generate(),
		Action:         action,
		Msisdn:         req.Msisdn,
		PackageCode:    pkg.Name,
		Channel:        req.Channel,
		ChargePrice:    pkg.Price,
		TransactionID:  result.TransactionID,
		PartnerCommand: string(req.Command),
		Mode:           chargingdomain.ModeReal,
		IsSuccess:      chargingdomain.ResultSuccess,
		RegDatetime:    now,
		ExpireDatetime: &expire,
	})
}

func (s *serviceImpl) applyCancel(ctx context.Context, tx *gorm.DB, req Request, pkg catalog.Package, result *partnerdomain.GatewayResult, now time.Time) error {
	customer, err := s.repo.FindCustomer(ctx, tx, req.Msisdn, pkg.Name)
	if err != nil {
		return err
	}
	if customer != nil {
		createDate := customer.CreateDate
		if err := s.repo.InsertCancellation(ctx, tx, &chargingdomain.CustomerCancellation{
			ID:                 s.genID.Generate(),
			Msisdn:             customer.Msisdn,
			PackageName:        pkg.Name,
			Channel:            req.Channel,
			Status:             chargingdomain.ResultSuccess,
			CurrentChargedDate: customer.CurrentChargedDate,
			NextChargeDate:     customer.NextChargeDate,
			CreateDate:         &createDate,
			LastUnreg:          &now,
			CancelDate:         now,
			CancelReason:       "Web cancellation",
			TransactionID:      result.TransactionID,
			Note:               "Web charge - Cancelled",
		}); err != nil {
			return err
		}
		if err := s.repo.DeleteCustomer(ctx, tx, req.Msisdn, pkg.Name); err != nil {
			return err
		}
	}

	if err := s.repo.InsertHistory(ctx, tx, &chargingdomain.CustomerHistory{
		ID:             s.genID.Generate(),
		Msisdn:         req.Msisdn,
		PackageName:    pkg.Name,
		Action:         chargingdomain.ActionCancel,
		TransactionID:  result.TransactionID,
		PartnerCommand: string(req.Command),
		Channel:        req.Channel,
		Result:         chargingdomain.ResultSuccess,
		Note:           "Web charge - Cancellation successful",
		CreateDate:     now,
	}); err != nil {
		return err
	}

	return s.writeLedger(ctx, tx, &chargingdomain.ChargingLog{
		ID:             s.genID.Generate(),
		Action:         chargingdomain.ActionCancel,
		Msisdn:         req.Msisdn,
		PackageCode:    pkg.Name,
		Channel:        req.Channel,
		TransactionID:  result.TransactionID,
		PartnerCommand: string(req.Command),
		Mode:           chargingdomain.ModeReal,
		IsSuccess:      chargingdomain.ResultSuccess,
		RegDatetime:    now,
	})
}

// applyFailure records the refused charge without touching the live row.
func (s *serviceImpl) applyFailure(ctx context.Context, tx *gorm.DB, req Request, pkg catalog.Package, result *partnerdomain.GatewayResult, now time.Time) error {
	action := chargingdomain.ActionCancel
	if req.Command == partnerdomain.CommandRegister {
		action = chargingdomain.ActionRegister
	}

	if err := s.repo.InsertHistory(ctx, tx, &chargingdomain.CustomerHistory{
		ID:             s.genID.Generate(),
		Msisdn:         req.Msisdn,
		PackageName:    pkg.Name,
		Action:         action,
		TransactionID:  result.TransactionID,
		PartnerCommand: string(req.Command),
		Channel:        req.Channel,
		Result:         chargingdomain.ResultFailure,
		Note:           "Web charge failed - " + result.ResultMessage,
		CreateDate:     now,
	}); err != nil {
		return err
	}

	var price int64
	if req.Command == partnerdomain.CommandRegister {
		price = pkg.Price
	}
	return s.writeLedger(ctx, tx, &chargingdomain.ChargingLog{
		ID:             s.genID.Generate(),
		Action:         action,
		Msisdn:         req.Msisdn,
		PackageCode:    pkg.Name,
		Channel:        req.Channel,
		ChargePrice:    price,
		TransactionID:  result.TransactionID,
		PartnerCommand: string(req.Command),
		Mode:           chargingdomain.ModeReal,
		IsSuccess:      chargingdomain.ResultFailure,
		RegDatetime:    now,
	})
}

// writeLedger inserts the ledger row and fails the enclosing transaction when
// the transaction id was already recorded, so a replayed gateway id never
// commits customer or history writes.
func (s *serviceImpl) writeLedger(ctx context.Context, tx *gorm.DB, row *chargingdomain.ChargingLog) error {
	outcome, err := s.repo.InsertChargingLog(ctx, tx, row)
	if err != nil {
		return err
	}
	if outcome == chargingdomain.AlreadyApplied {
		s.log.Warn("duplicate transaction id, rolling back",
			zap.String("msisdn", row.Msisdn),
			zap.String("transaction_id", row.TransactionID),
		)
		return ErrDuplicateTransaction
	}
	return nil
}

func userMessage(cmd partnerdomain.Command, outcome partnerdomain.Outcome) string {
	switch {
	case cmd == partnerdomain.CommandRegister && outcome == partnerdomain.OutcomeSuccess:
		return "Subscription registered successfully!"
	case cmd == partnerdomain.CommandRegister && outcome == partnerdomain.OutcomeUserCancel:
		return "You cancelled the registration."
	case cmd == partnerdomain.CommandRegister && outcome == partnerdomain.OutcomeTimeout:
		return "Request timed out. Please try again."
	case cmd == partnerdomain.CommandRegister:
		return "Registration failed. Please try again."
	case cmd == partnerdomain.CommandCancel && outcome == partnerdomain.OutcomeSuccess:
		return "Subscription cancelled successfully!"
	case cmd == partnerdomain.CommandCancel:
		return "Cancellation failed. Please try again."
	case cmd == partnerdomain.CommandCharge && outcome == partnerdomain.OutcomeSuccess:
		return "Package renewed successfully!"
	case cmd == partnerdomain.CommandCharge:
		return "Renewal failed. Please check your balance."
	}
	return "Request failed."
}
