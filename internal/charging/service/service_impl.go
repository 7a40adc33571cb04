package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/matinoplay/billing/internal/catalog"
	chargingdomain "github.com/matinoplay/billing/internal/charging/domain"
	"github.com/matinoplay/billing/internal/clock"
	applogger "github.com/matinoplay/billing/internal/logger"
	obsmetrics "github.com/matinoplay/billing/internal/observability/metrics"
)

// errDuplicateTransaction aborts a transaction whose ledger insert lost a
// race against a replay; the replay already owns the transaction id, so the
// whole unit rolls back and the partner gets an acknowledging "0".
var errDuplicateTransaction = errors.New("duplicate_transaction")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       chargingdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       chargingdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("charging.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

var _ chargingdomain.Service = (*Service)(nil)

// ProcessSubscription handles the partner's subscription callback. Params
// "0" means the subscriber registered, anything else means they cancelled.
func (s *Service) ProcessSubscription(ctx context.Context, req chargingdomain.CallbackRequest) chargingdomain.Ack {
	action := chargingdomain.ActionCancel
	if req.Params == "0" {
		action = chargingdomain.ActionRegister
	}

	chargeTime := catalog.ParseChargeTime(req.ChargeTime, s.clock.Now())
	packageName := catalog.PackageNameFromServiceID(req.ServiceID)
	channel := catalog.ChannelFromCommand(req.Command)

	logger := s.callbackLogger(ctx, req, string(action), packageName)

	if s.isReplay(ctx, req.TransactionID, logger) {
		return s.ack(string(action), chargingdomain.AckOK)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch action {
		case chargingdomain.ActionRegister:
			if err := s.applyRegistration(ctx, tx, req, chargeTime, packageName, channel); err != nil {
				return err
			}
		case chargingdomain.ActionCancel:
			if err := s.applyCancellation(ctx, tx, req, chargeTime, packageName, channel); err != nil {
				return err
			}
		}
		return s.writeLedger(ctx, tx, ledgerRow{
			action:      action,
			req:         req,
			packageName: packageName,
			channel:     channel,
			chargeTime:  chargeTime,
			price:       req.Amount,
			command:     req.Command,
			mode:        normalizeMode(req.Mode),
			isSuccess:   chargingdomain.ResultSuccess,
		})
	})
	if err != nil {
		return s.handleFailure(ctx, err, string(action), ledgerRow{
			action:      action,
			req:         req,
			packageName: packageName,
			channel:     channel,
			chargeTime:  chargeTime,
			price:       req.Amount,
			command:     req.Command,
		}, logger)
	}

	logger.Info("subscription callback applied")
	return s.ack(string(action), chargingdomain.AckOK)
}

// ProcessRenewal handles the partner's renewal result callback. The partner
// renews on its own schedule and reports the outcome here: Params "0" means
// the charge went through.
func (s *Service) ProcessRenewal(ctx context.Context, req chargingdomain.CallbackRequest) chargingdomain.Ack {
	const action = chargingdomain.ActionRenew
	const channel = "CP"

	chargeTime := catalog.ParseChargeTime(req.ChargeTime, s.clock.Now())
	packageName := catalog.PackageNameFromServiceID(req.ServiceID)

	logger := s.callbackLogger(ctx, req, string(action), packageName)

	if s.isReplay(ctx, req.TransactionID, logger) {
		return s.ack(string(action), chargingdomain.AckOK)
	}

	renewed := req.Params == "0"

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var price int64
		result := chargingdomain.ResultFailure
		if renewed {
			if err := s.applyRenewalSuccess(ctx, tx, req, chargeTime, packageName); err != nil {
				return err
			}
			price = req.Amount
			result = chargingdomain.ResultSuccess
		} else {
			if err := s.applyRenewalFailure(ctx, tx, req, chargeTime, packageName); err != nil {
				return err
			}
		}
		return s.writeLedger(ctx, tx, ledgerRow{
			action:      action,
			req:         req,
			packageName: packageName,
			channel:     channel,
			chargeTime:  chargeTime,
			price:       price,
			command:     req.Command,
			mode:        normalizeMode(req.Mode),
			isSuccess:   result,
		})
	})
	if err != nil {
		return s.handleFailure(ctx, err, string(action), ledgerRow{
			action:      action,
			req:         req,
			packageName: packageName,
			channel:     channel,
			chargeTime:  chargeTime,
			command:     req.Command,
		}, logger)
	}

	logger.Info("renewal callback applied", zap.Bool("renewed", renewed))
	return s.ack(string(action), chargingdomain.AckOK)
}

// ProcessContent handles one-time content purchases. They touch no live
// subscription row; only history and the ledger record them.
func (s *Service) ProcessContent(ctx context.Context, req chargingdomain.CallbackRequest) chargingdomain.Ack {
	const action = chargingdomain.ActionOneTime
	const packageName = "OTP"
	const channel = "SMS"

	chargeTime := catalog.ParseChargeTime(req.ChargeTime, s.clock.Now())
	logger := s.callbackLogger(ctx, req, string(action), packageName)

	if s.isReplay(ctx, req.TransactionID, logger) {
		return s.ack(string(action), chargingdomain.AckOK)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		history := &chargingdomain.CustomerHistory{
			ID:                 s.genID.Generate(),
			Msisdn:             req.Msisdn,
			PackageName:        packageName,
			Action:             action,
			TransactionID:      req.TransactionID,
			PartnerCommand:     req.Params,
			Channel:            channel,
			Price:              req.Amount,
			Result:             chargingdomain.ResultSuccess,
			CurrentChargedDate: &chargeTime,
			Note:               "One-time package purchase",
			CreateDate:         chargeTime,
		}
		if err := s.repo.InsertHistory(ctx, tx, history); err != nil {
			return err
		}
		return s.writeLedger(ctx, tx, ledgerRow{
			action:      action,
			req:         req,
			packageName: packageName,
			channel:     channel,
			chargeTime:  chargeTime,
			price:       req.Amount,
			command:     req.Params,
			mode:        normalizeMode(req.Mode),
			isSuccess:   chargingdomain.ResultSuccess,
		})
	})
	if err != nil {
		return s.handleFailure(ctx, err, string(action), ledgerRow{
			action:      action,
			req:         req,
			packageName: packageName,
			channel:     channel,
			chargeTime:  chargeTime,
			command:     req.Params,
		}, logger)
	}

	logger.Info("content callback applied")
	return s.ack(string(action), chargingdomain.AckOK)
}

// CheckSubscription lists the active subscriptions for an msisdn.
func (s *Service) CheckSubscription(ctx context.Context, msisdn string) ([]chargingdomain.ActiveSubscription, error) {
	customers, err := s.repo.FindActiveCustomers(ctx, s.db, msisdn)
	if err != nil {
		return nil, err
	}
	out := make([]chargingdomain.ActiveSubscription, 0, len(customers))
	for _, c := range customers {
		out = append(out, chargingdomain.ActiveSubscription{
			PackageName:    c.PackageName,
			Status:         string(c.Status),
			Channel:        c.Channel,
			Price:          c.Price,
			NextChargeDate: c.NextChargeDate,
		})
	}
	return out, nil
}

// applyRegistration activates the customer row and appends the audit entry.
func (s *Service) applyRegistration(ctx context.Context, tx *gorm.DB, req chargingdomain.CallbackRequest, chargeTime time.Time, packageName, channel string) error {
	nextCharge := catalog.NextChargeDate(packageName, chargeTime)

	existing, err := s.repo.FindCustomer(ctx, tx, req.Msisdn, packageName)
	if err != nil {
		return err
	}

	customer := &chargingdomain.Customer{
		Msisdn:             req.Msisdn,
		PackageName:        packageName,
		Status:             chargingdomain.CustomerStatusActive,
		Channel:            channel,
		Price:              req.Amount,
		CurrentChargedDate: &chargeTime,
		NextChargeDate:     &nextCharge,
		Note:               "New subscription",
		CreateDate:         chargeTime,
	}
	if existing != nil {
		customer.ID = existing.ID
		customer.CreateDate = existing.CreateDate
		customer.Note = "Subscription renewed"
	} else {
		customer.ID = s.genID.Generate()
	}
	if err := s.repo.UpsertCustomer(ctx, tx, customer); err != nil {
		return err
	}

	return s.repo.InsertHistory(ctx, tx, &chargingdomain.CustomerHistory{
		ID:                 s.genID.Generate(),
		Msisdn:             req.Msisdn,
		PackageName:        packageName,
		Action:             chargingdomain.ActionRegister,
		TransactionID:      req.TransactionID,
		PartnerCommand:     req.Command,
		Channel:            channel,
		Price:              req.Amount,
		Result:             chargingdomain.ResultSuccess,
		CurrentChargedDate: &chargeTime,
		NextChargeDate:     &nextCharge,
		Note:               "Registration successful",
		CreateDate:         chargeTime,
	})
}

// applyCancellation archives the live row, deletes it and appends the audit
// entry. A cancel for an unknown customer still gets its history row.
func (s *Service) applyCancellation(ctx context.Context, tx *gorm.DB, req chargingdomain.CallbackRequest, chargeTime time.Time, packageName, channel string) error {
	customer, err := s.repo.FindCustomer(ctx, tx, req.Msisdn, packageName)
	if err != nil {
		return err
	}

	if customer != nil {
		createDate := customer.CreateDate
		cancellation := &chargingdomain.CustomerCancellation{
			ID:                 s.genID.Generate(),
			Msisdn:             customer.Msisdn,
			PackageName:        packageName,
			Channel:            channel,
			Status:             chargingdomain.ResultSuccess,
			CurrentChargedDate: customer.CurrentChargedDate,
			NextChargeDate:     customer.NextChargeDate,
			CreateDate:         &createDate,
			LastUnreg:          &chargeTime,
			CancelDate:         chargeTime,
			CancelReason:       "User request",
			TransactionID:      req.TransactionID,
			Note:               "Subscription cancelled",
		}
		if err := s.repo.InsertCancellation(ctx, tx, cancellation); err != nil {
			return err
		}
		if err := s.repo.DeleteCustomer(ctx, tx, req.Msisdn, packageName); err != nil {
			return err
		}
	}

	return s.repo.InsertHistory(ctx, tx, &chargingdomain.CustomerHistory{
		ID:             s.genID.Generate(),
		Msisdn:         req.Msisdn,
		PackageName:    packageName,
		Action:         chargingdomain.ActionCancel,
		TransactionID:  req.TransactionID,
		PartnerCommand: req.Command,
		Channel:        channel,
		Result:         chargingdomain.ResultSuccess,
		Note:           "Cancellation successful",
		CreateDate:     chargeTime,
	})
}

// applyRenewalSuccess refreshes the charge window. A renewal for a customer
// we never saw still materializes an active row.
func (s *Service) applyRenewalSuccess(ctx context.Context, tx *gorm.DB, req chargingdomain.CallbackRequest, chargeTime time.Time, packageName string) error {
	nextCharge := catalog.NextChargeDate(packageName, chargeTime)

	existing, err := s.repo.FindCustomer(ctx, tx, req.Msisdn, packageName)
	if err != nil {
		return err
	}

	customer := &chargingdomain.Customer{
		Msisdn:             req.Msisdn,
		PackageName:        packageName,
		Status:             chargingdomain.CustomerStatusActive,
		Channel:            "CP",
		Price:              req.Amount,
		CurrentChargedDate: &chargeTime,
		NextChargeDate:     &nextCharge,
		Note:               "Renewal successful",
		CreateDate:         chargeTime,
	}
	if existing != nil {
		customer.ID = existing.ID
		customer.Channel = existing.Channel
		customer.CreateDate = existing.CreateDate
	} else {
		customer.ID = s.genID.Generate()
	}
	if err := s.repo.UpsertCustomer(ctx, tx, customer); err != nil {
		return err
	}

	return s.repo.InsertHistory(ctx, tx, &chargingdomain.CustomerHistory{
		ID:                 s.genID.Generate(),
		Msisdn:             req.Msisdn,
		PackageName:        packageName,
		Action:             chargingdomain.ActionRenew,
		TransactionID:      req.TransactionID,
		PartnerCommand:     req.Command,
		Channel:            "CP",
		Price:              req.Amount,
		Result:             chargingdomain.ResultSuccess,
		CurrentChargedDate: &chargeTime,
		NextChargeDate:     &nextCharge,
		Note:               "Renewal successful",
		CreateDate:         chargeTime,
	})
}

// applyRenewalFailure drops the customer back to inactive.
func (s *Service) applyRenewalFailure(ctx context.Context, tx *gorm.DB, req chargingdomain.CallbackRequest, chargeTime time.Time, packageName string) error {
	if err := s.repo.InsertHistory(ctx, tx, &chargingdomain.CustomerHistory{
		ID:             s.genID.Generate(),
		Msisdn:         req.Msisdn,
		PackageName:    packageName,
		Action:         chargingdomain.ActionRenew,
		TransactionID:  req.TransactionID,
		PartnerCommand: req.Command,
		Channel:        "CP",
		Result:         chargingdomain.ResultFailure,
		Note:           "Renewal failed",
		CreateDate:     chargeTime,
	}); err != nil {
		return err
	}

	existing, err := s.repo.FindCustomer(ctx, tx, req.Msisdn, packageName)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	existing.Status = chargingdomain.CustomerStatusInactive
	existing.Note = "Renewal failed"
	return s.repo.UpsertCustomer(ctx, tx, existing)
}

type ledgerRow struct {
	action      chargingdomain.Action
	req         chargingdomain.CallbackRequest
	packageName string
	channel     string
	chargeTime  time.Time
	price       int64
	command     string
	mode        string
	isSuccess   int16
}

func (s *Service) writeLedger(ctx context.Context, tx *gorm.DB, row ledgerRow) error {
	outcome, err := s.repo.InsertChargingLog(ctx, tx, s.buildLog(row))
	if err != nil {
		return err
	}
	if outcome == chargingdomain.AlreadyApplied {
		return errDuplicateTransaction
	}
	return nil
}

func (s *Service) buildLog(row ledgerRow) *chargingdomain.ChargingLog {
	var expire *time.Time
	if pkg, err := catalog.Lookup(row.packageName); err == nil && row.isSuccess == chargingdomain.ResultSuccess {
		t := row.chargeTime.AddDate(0, 0, pkg.DurationDays)
		expire = &t
	}
	return &chargingdomain.ChargingLog{
		ID:             s.genID.Generate(),
		Action:         row.action,
		Msisdn:         row.req.Msisdn,
		PackageCode:    row.packageName,
		Channel:        row.channel,
		ChargePrice:    row.price,
		TransactionID:  row.req.TransactionID,
		PartnerCommand: row.command,
		Mode:           row.mode,
		IsSuccess:      row.isSuccess,
		RegDatetime:    row.chargeTime,
		ExpireDatetime: expire,
		Raw: datatypes.JSONMap{
			"serviceid": row.req.ServiceID,
			"params":    row.req.Params,
			"command":   row.req.Command,
			"mode":      row.req.Mode,
		},
	}
}

// isReplay is the cheap idempotency pre-check. The unique constraint on the
// ledger remains the real barrier for races.
func (s *Service) isReplay(ctx context.Context, transactionID string, logger *zap.Logger) bool {
	if transactionID == "" {
		return false
	}
	existing, err := s.repo.FindChargingLog(ctx, s.db, transactionID)
	if err != nil {
		logger.Warn("idempotency pre-check failed", zap.Error(err))
		return false
	}
	if existing != nil {
		logger.Info("duplicate transaction acknowledged")
		return true
	}
	return false
}

// handleFailure runs after the transaction wrapper has rolled back. The
// failure is recorded best-effort in a fresh transaction and the partner
// gets its ack. A lost duplicate race is a success from the partner's view.
func (s *Service) handleFailure(ctx context.Context, err error, action string, row ledgerRow, logger *zap.Logger) chargingdomain.Ack {
	if errors.Is(err, errDuplicateTransaction) {
		logger.Info("duplicate transaction caught by ledger constraint")
		return s.ack(action, chargingdomain.AckOK)
	}

	logger.Error("callback processing failed", zap.Error(err))

	row.mode = chargingdomain.ModeError
	row.isSuccess = chargingdomain.ResultFailure
	row.price = 0
	failureLog := s.buildLog(row)
	// The failed attempt burned the transaction id slot only in the rolled
	// back transaction, so this insert normally lands; if it conflicts with
	// a concurrent replay that is fine too.
	if _, logErr := s.repo.InsertChargingLog(ctx, s.db, failureLog); logErr != nil {
		logger.Warn("failure ledger write failed", zap.Error(logErr))
	}

	return s.ack(action, chargingdomain.AckFail)
}

func (s *Service) ack(action string, ack chargingdomain.Ack) chargingdomain.Ack {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCallback(action, string(ack))
	}
	return ack
}

func normalizeMode(mode string) string {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if mode == "" {
		return chargingdomain.ModeReal
	}
	return mode
}

func (s *Service) callbackLogger(ctx context.Context, req chargingdomain.CallbackRequest, action, packageName string) *zap.Logger {
	return applogger.WithContext(ctx, s.log).With(
		zap.String("msisdn", req.Msisdn),
		zap.String("action", action),
		zap.String("package", packageName),
		zap.String("transaction_id", req.TransactionID),
	)
}
