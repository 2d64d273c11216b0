package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sakashimaa/go-auction/pkg/clock"
	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tokenIssuer   = "settlement-service"
	tokenAudience = "payout-service"
)

var ErrMissingTokenSecret = errors.New("payout token secret is not configured")

type PayoutRequest struct {
	SettlementID int64 `json:"settlementId"`
	PayeeID      int64 `json:"payeeId"`
	Amount       int64 `json:"amount"`
}

type PayoutClient interface {
	// Payout returns the payout reference assigned by the payout service.
	Payout(ctx context.Context, req PayoutRequest) (string, error)
}

type httpPayoutClient struct {
	baseURL  string
	secret   []byte
	tokenTTL time.Duration
	clock    clock.Clock
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
	tracer   trace.Tracer
}

func NewHTTPPayoutClient(cfg config.Payout, clk clock.Clock, cb *gobreaker.CircuitBreaker) (PayoutClient, error) {
	if cfg.TokenSecret == "" {
		return nil, ErrMissingTokenSecret
	}

	return &httpPayoutClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		secret:   []byte(cfg.TokenSecret),
		tokenTTL: cfg.TokenTTL,
		clock:    clk,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb:     cb,
		tracer: otel.Tracer("client/payout"),
	}, nil
}

type payoutResponse struct {
	PayoutRef string `json:"payoutRef"`
}

func (c *httpPayoutClient) Payout(ctx context.Context, req PayoutRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "PayoutClient.Payout")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("settlement_id", req.SettlementID),
		attribute.Int64("payee_id", req.PayeeID),
		attribute.Int64("amount", req.Amount),
	)

	ref, err := utils.ExecuteWithBreaker(c.cb, func() (string, error) {
		return c.send(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	return ref, nil
}

func (c *httpPayoutClient) send(ctx context.Context, req PayoutRequest) (string, error) {
	token, err := c.token()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal payout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/payouts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Idempotency-Key", "settlement-"+strconv.FormatInt(req.SettlementID, 10))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post payout for settlement %d: %w", req.SettlementID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("post payout for settlement %d: unexpected status %d", req.SettlementID, resp.StatusCode)
	}

	var out payoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode payout response: %w", err)
	}

	return out.PayoutRef, nil
}

// token signs a short-lived HS256 bearer for one call.
func (c *httpPayoutClient) token() (string, error) {
	now := c.clock.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		ID:        uuid.New().String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign payout token: %w", err)
	}

	return signed, nil
}
