package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrUserNotFound = errors.New("user not found")

type UserDirectory interface {
	Nickname(ctx context.Context, userID int64) (string, error)
}

type httpUserDirectory struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

func NewHTTPUserDirectory(cfg config.Users, cb *gobreaker.CircuitBreaker) UserDirectory {
	return &httpUserDirectory{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cb:     cb,
		tracer: otel.Tracer("client/users"),
	}
}

type userResponse struct {
	Nickname string `json:"nickname"`
}

func (d *httpUserDirectory) Nickname(ctx context.Context, userID int64) (string, error) {
	ctx, span := d.tracer.Start(ctx, "UserDirectory.Nickname")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	nickname, err := utils.ExecuteWithBreaker(d.cb, func() (string, error) {
		return d.fetch(ctx, userID)
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	return nickname, nil
}

func (d *httpUserDirectory) fetch(ctx context.Context, userID int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/internal/users/%d", d.baseURL, userID), nil)
	if err != nil {
		return "", fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get user %d: %w", userID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("get user %d: unexpected status %d", userID, resp.StatusCode)
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode user %d: %w", userID, err)
	}

	return body.Nickname, nil
}
