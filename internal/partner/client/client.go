package client

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/matinoplay/billing/internal/config"
	"github.com/matinoplay/billing/internal/partner/crypto"
	"github.com/matinoplay/billing/internal/partner/domain"
)

// Client issues charge commands to the billing gateway. Encode-stage
// failures (missing keys, oversized payload) surface as errors before any
// network traffic; everything after the request is sent degrades to a
// GatewayResult so callers never see a raw transport or crypto error.
type Client struct {
	cfg    config.PartnerConfig
	codec  *crypto.Codec
	http   *http.Client
	logger *zap.Logger
}

func New(cfg config.Config, codec *crypto.Codec, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg.Partner,
		codec:  codec,
		http:   &http.Client{Timeout: cfg.Partner.ChargeTimeout},
		logger: logger.Named("partner.client"),
	}
}

// Charge sends one REGISTER, CANCEL or CHARGE command for an msisdn.
func (c *Client) Charge(ctx context.Context, msisdn string, cmd domain.Command, subService string, price int64) (*domain.GatewayResult, error) {
	if !cmd.Valid() {
		return nil, domain.ErrInvalidCommand
	}

	env, err := c.codec.Encode(subService, msisdn, price)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("PRO", c.cfg.CPID)
	query.Set("SER", c.cfg.ServiceID)
	query.Set("SUB", c.cfg.SubID)
	query.Set("CMD", string(cmd))
	query.Set("DATA", env.Data)
	query.Set("SIG", env.Sig)

	reqURL := c.cfg.GatewayBaseURL + "?" + query.Encode()

	logger := c.logger.With(
		zap.String("msisdn", msisdn),
		zap.String("cmd", string(cmd)),
		zap.String("sub_service", subService),
		zap.String("request_id", env.RequestID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error("gateway call failed", zap.Error(err))
		return degraded(err.Error(), env.RequestID, ""), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("gateway response read failed", zap.Error(err))
		return degraded(err.Error(), env.RequestID, ""), nil
	}
	raw := string(body)

	if resp.StatusCode != http.StatusOK {
		logger.Warn("gateway returned non-ok status",
			zap.Int("status", resp.StatusCode))
		return degraded("gateway status "+resp.Status, env.RequestID, raw), nil
	}

	decoded, err := c.codec.Decode(subService, raw)
	if err != nil {
		logger.Warn("gateway response decode failed", zap.Error(err))
		return degraded("undecodable response", env.RequestID, raw), nil
	}

	code := decoded.Pairs["RES"]
	if code == "" {
		logger.Warn("gateway response missing RES field")
		return degraded("missing result code", env.RequestID, decoded.Plain), nil
	}

	transactionID := decoded.Pairs["REQ"]
	if transactionID == "" {
		transactionID = env.RequestID
	}

	result := &domain.GatewayResult{
		ResultCode:    code,
		ResultMessage: domain.CodeMessage(code),
		TransactionID: transactionID,
		Raw:           decoded.Plain,
	}
	logger.Info("gateway result",
		zap.String("code", result.ResultCode),
		zap.String("outcome", string(result.Outcome())),
		zap.String("transaction_id", result.TransactionID),
	)
	return result, nil
}

func degraded(message, transactionID, raw string) *domain.GatewayResult {
	return &domain.GatewayResult{
		ResultCode:    domain.ResultCodeInternal,
		ResultMessage: message,
		TransactionID: transactionID,
		Raw:           raw,
	}
}
