package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentpay "github.com/skymint/agentpay"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	return client
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestCreateWallet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wallets", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var req createWalletRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "buyer_1", req.OwnerRef)
		assert.Equal(t, 10.0, req.SpendLimit)

		json.NewEncoder(w).Encode(createWalletResponse{
			WalletID:      "wlt_remote",
			WalletAddress: "0xremote",
			Network:       "base-sepolia",
		})
	})

	info, err := client.CreateWallet(context.Background(), "buyer_1", 10)
	require.NoError(t, err)
	assert.Equal(t, "wlt_remote", info.WalletID)
	assert.Equal(t, "0xremote", info.WalletAddress)
	assert.Equal(t, "base-sepolia", info.Network)
}

func TestMakePayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wallets/wlt_remote/payments", r.URL.Path)

		var req makePaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.05, req.Amount)
		assert.Equal(t, "0xseller", req.Recipient)
		assert.Equal(t, "5 tokens", req.Description)

		json.NewEncoder(w).Encode(makePaymentResponse{
			PaymentID: "pay_remote",
			Signature: "0xsig",
		})
	})

	receipt, err := client.MakePayment(context.Background(), "wlt_remote", 0.05, "0xseller", "5 tokens")
	require.NoError(t, err)
	assert.Equal(t, "pay_remote", receipt.PaymentID)
	assert.Equal(t, "0xsig", receipt.Signature)
}

func TestGetStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/wallets/wlt_remote", r.URL.Path)

		json.NewEncoder(w).Encode(walletStatusResponse{
			IsActive:         true,
			RemainingBalance: 9.95,
		})
	})

	status, err := client.GetStatus(context.Background(), "wlt_remote")
	require.NoError(t, err)
	assert.True(t, status.IsActive)
	assert.Equal(t, 9.95, status.RemainingBalance)
}

func TestErrorResponsesWrapAsProviderCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusPaymentRequired)
	})

	_, err := client.MakePayment(context.Background(), "wlt_remote", 0.05, "0xseller", "5 tokens")
	require.Error(t, err)
	assert.True(t, agentpay.IsProviderCall(err))
	assert.Contains(t, err.Error(), "makePayment")

	_, err = client.CreateWallet(context.Background(), "buyer_1", 10)
	assert.True(t, agentpay.IsProviderCall(err))

	_, err = client.GetStatus(context.Background(), "wlt_remote")
	assert.True(t, agentpay.IsProviderCall(err))
}

func TestDecodeFailureIsProviderCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := client.GetStatus(context.Background(), "wlt_remote")
	require.Error(t, err)
	assert.True(t, agentpay.IsProviderCall(err))
}

func TestContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetStatus(ctx, "wlt_remote")
	assert.Error(t, err)
}
