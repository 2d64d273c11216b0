package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sakashimaa/go-auction/pkg/clock"
	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "payout-test-secret"

func newClient(t *testing.T, baseURL string) PayoutClient {
	t.Helper()

	cb := utils.NewCircuitBreaker("payout-test", utils.BreakerOptions{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, zap.NewNop())

	c, err := NewHTTPPayoutClient(config.Payout{
		BaseURL:     baseURL,
		TokenSecret: secret,
		TokenTTL:    time.Minute,
		Timeout:     time.Second,
	}, clock.NewSystem(), cb)
	require.NoError(t, err)

	return c
}

func TestPayout_SendsSignedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/payouts", r.URL.Path)
		assert.Equal(t, "settlement-12", r.Header.Get("Idempotency-Key"))

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience(tokenAudience))
		assert.NoError(t, err)
		assert.True(t, token.Valid)
		assert.Equal(t, tokenIssuer, claims.Issuer)
		assert.NotEmpty(t, claims.ID)

		var body PayoutRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, PayoutRequest{SettlementID: 12, PayeeID: 7, Amount: 9_500}, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payoutRef":"po-12"}`))
	}))
	defer srv.Close()

	ref, err := newClient(t, srv.URL).Payout(context.Background(), PayoutRequest{SettlementID: 12, PayeeID: 7, Amount: 9_500})
	require.NoError(t, err)
	assert.Equal(t, "po-12", ref)
}

func TestPayout_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Payout(context.Background(), PayoutRequest{SettlementID: 1, PayeeID: 1, Amount: 1})
	require.Error(t, err)
}

func TestNewHTTPPayoutClient_RequiresSecret(t *testing.T) {
	_, err := NewHTTPPayoutClient(config.Payout{BaseURL: "http://x"}, clock.NewSystem(), nil)
	require.ErrorIs(t, err, ErrMissingTokenSecret)
}
