package agentpay

import (
	"context"
	"fmt"
	"sync/atomic"
)

// mockProvider is a function-field PaymentProvider for tests. Defaults
// succeed and count calls; tests override individual fields to inject
// failures.
type mockProvider struct {
	createWallet func(ctx context.Context, ownerRef string, limit float64) (*WalletInfo, error)
	makePayment  func(ctx context.Context, walletID string, amount float64, recipient, description string) (*PaymentReceipt, error)
	getStatus    func(ctx context.Context, walletID string) (*WalletStatus, error)

	walletCalls  atomic.Int64
	paymentCalls atomic.Int64
	statusCalls  atomic.Int64
}

func (m *mockProvider) CreateWallet(ctx context.Context, ownerRef string, limit float64) (*WalletInfo, error) {
	n := m.walletCalls.Add(1)
	if m.createWallet != nil {
		return m.createWallet(ctx, ownerRef, limit)
	}
	return &WalletInfo{
		WalletID:      fmt.Sprintf("wlt_test%d", n),
		WalletAddress: fmt.Sprintf("0xaddr%d", n),
		Network:       "evm",
	}, nil
}

func (m *mockProvider) MakePayment(ctx context.Context, walletID string, amount float64, recipient, description string) (*PaymentReceipt, error) {
	n := m.paymentCalls.Add(1)
	if m.makePayment != nil {
		return m.makePayment(ctx, walletID, amount, recipient, description)
	}
	return &PaymentReceipt{
		PaymentID: fmt.Sprintf("pay_test%d", n),
		Signature: fmt.Sprintf("0xsig%d", n),
	}, nil
}

func (m *mockProvider) GetStatus(ctx context.Context, walletID string) (*WalletStatus, error) {
	m.statusCalls.Add(1)
	if m.getStatus != nil {
		return m.getStatus(ctx, walletID)
	}
	return &WalletStatus{IsActive: true, RemainingBalance: 10}, nil
}

var _ PaymentProvider = (*mockProvider)(nil)

// sellerProfile builds a registered seller offering tokens at unitPrice
func sellerProfile(id string, unitPrice float64) AgentProfile {
	return AgentProfile{
		AgentID:      id,
		AgentName:    "test-seller",
		Services:     []string{ServiceTokens},
		FixedPricing: map[string]float64{ServiceTokens: unitPrice},
		SessionWallet: WalletRef{
			WalletID: "wlt_seller",
			Address:  "0xseller",
		},
		IsOnline: true,
	}
}

// buyerProfile builds a buyer with a session wallet and no services
func buyerProfile(id string) AgentProfile {
	return AgentProfile{
		AgentID:      id,
		AgentName:    "test-buyer",
		Services:     []string{},
		FixedPricing: map[string]float64{},
		SessionWallet: WalletRef{
			WalletID: "wlt_buyer",
			Address:  "0xbuyer",
		},
		IsOnline: true,
	}
}
