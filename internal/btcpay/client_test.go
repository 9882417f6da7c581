package btcpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpyc/tollbooth/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "test-key", "store-1", logger.Discard())
	c.SetBaseURL(srv.URL)
	return c, srv
}

func TestClient_SendsTokenAuthHeader(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"synchronized": true}`))
	})

	_, err := c.HealthCheck(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "token test-key", gotAuth)
}

func TestClient_BaseURLNormalization(t *testing.T) {
	c := NewClient("https://pay.example.com/", "k", "s", logger.Discard())
	assert.Equal(t, "https://pay.example.com/api/v1", c.baseURL)

	c = NewClient("https://pay.example.com", "k", "s", logger.Discard())
	assert.Equal(t, "https://pay.example.com/api/v1", c.baseURL)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{404, KindNotFound},
		{422, KindValidation},
		{500, KindServer},
		{503, KindServer},
		{400, KindGeneric},
	}
	for _, tt := range tests {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte("nope"))
		})

		_, err := c.GetStore(context.Background())

		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.want, KindOf(err), "status %d", tt.status)
	}
}

func TestClient_ConnectionError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "k", "s", logger.Discard())

	_, err := c.HealthCheck(context.Background())

	require.Error(t, err)
	assert.Equal(t, KindConnection, KindOf(err))
}

func TestClient_CreateInvoice(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id": "inv-42", "status": "New", "checkoutLink": "https://pay/i/inv-42", "amount": "980", "currency": "SATS"}`))
	})

	inv, err := c.CreateInvoice(context.Background(), 980, map[string]interface{}{
		"user_id": "alice",
		"purpose": "credit_purchase",
	})

	require.NoError(t, err)
	assert.Equal(t, "/stores/store-1/invoices", gotPath)
	assert.Equal(t, "980", gotBody["amount"])
	assert.Equal(t, "SATS", gotBody["currency"])
	meta := gotBody["metadata"].(map[string]interface{})
	assert.Equal(t, "alice", meta["user_id"])
	assert.Equal(t, "inv-42", inv.ID)
	assert.Equal(t, "https://pay/i/inv-42", inv.CheckoutLink)
}

func TestClient_CreatePayout_ConvertsToBTC(t *testing.T) {
	var gotBody map[string]interface{}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id": "po-1", "state": "AwaitingApproval"}`))
	})

	p, err := c.CreatePayout(context.Background(), "dev@ln.example", 19, "")

	require.NoError(t, err)
	assert.Equal(t, "0.00000019", gotBody["amount"])
	assert.Equal(t, PayoutMethodLightning, gotBody["payoutMethodId"])
	assert.Equal(t, "dev@ln.example", gotBody["destination"])
	assert.Equal(t, "po-1", p.ID)
}

func TestClient_CreatePayout_NegativeAmountRejectedLocally(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.CreatePayout(context.Background(), "dev@ln.example", -5, "")

	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.False(t, called)
}

func TestClient_GetInvoice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stores/store-1/invoices/inv-42", r.URL.Path)
		w.Write([]byte(`{"id": "inv-42", "status": "Settled", "amount": "980"}`))
	})

	inv, err := c.GetInvoice(context.Background(), "inv-42")

	require.NoError(t, err)
	assert.Equal(t, StatusSettled, inv.Status)
	assert.Equal(t, int64(980), inv.AmountSats())
}
