// Package provider implements the payment-provider contract in process.
// The Local provider provisions session wallets from a wallet backend,
// enforces per-wallet spending limits, and settles payments in memory,
// signing each receipt with the paying wallet. It stands in for a real
// payment service so the demo runs with no external dependencies.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	agentpay "github.com/skymint/agentpay"
	"github.com/skymint/agentpay/wallet"
)

// sessionWallet is one provisioned wallet with its spending book
type sessionWallet struct {
	wallet   wallet.Wallet
	ownerRef string
	limit    float64
	spent    float64
	received float64
	active   bool
}

// Local is an in-process PaymentProvider. Safe for concurrent use.
type Local struct {
	mu        sync.Mutex
	backend   wallet.Backend
	wallets   map[string]*sessionWallet
	byAddress map[string]string
	latency   time.Duration
}

// Option configures a Local provider
type Option func(*Local)

// WithLatency adds an artificial delay to MakePayment, approximating a
// remote settlement round trip
func WithLatency(latency time.Duration) Option {
	return func(l *Local) {
		l.latency = latency
	}
}

// NewLocal creates a provider that provisions wallets from the given
// backend
func NewLocal(backend wallet.Backend, opts ...Option) *Local {
	l := &Local{
		backend:   backend,
		wallets:   make(map[string]*sessionWallet),
		byAddress: make(map[string]string),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// CreateWallet provisions a session wallet for ownerRef with the given
// spending limit
func (l *Local) CreateWallet(ctx context.Context, ownerRef string, limit float64) (*agentpay.WalletInfo, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("wallet limit must be positive, got %v", limit)
	}

	w, err := l.backend.NewWallet()
	if err != nil {
		return nil, fmt.Errorf("provision wallet: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	walletID := agentpay.GenerateWalletID()
	l.wallets[walletID] = &sessionWallet{
		wallet:   w,
		ownerRef: ownerRef,
		limit:    limit,
		active:   true,
	}
	l.byAddress[w.Address()] = walletID

	return &agentpay.WalletInfo{
		WalletID:      walletID,
		WalletAddress: w.Address(),
		Network:       w.Network(),
	}, nil
}

// MakePayment transfers amount from the wallet to the recipient address.
// The receipt signature is the paying wallet's signature over the payment
// terms, so a receipt can be verified against the payer's address.
func (l *Local) MakePayment(ctx context.Context, walletID string, amount float64, recipient, description string) (*agentpay.PaymentReceipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %v", amount)
	}

	if l.latency > 0 {
		select {
		case <-time.After(l.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sw, ok := l.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("unknown wallet %s", walletID)
	}
	if !sw.active {
		return nil, fmt.Errorf("wallet %s is deactivated", walletID)
	}
	if sw.spent+amount > sw.limit {
		return nil, fmt.Errorf("spending limit exceeded: %v spent of %v, cannot pay %v", sw.spent, sw.limit, amount)
	}

	paymentID := agentpay.GeneratePaymentID()
	terms := fmt.Sprintf("%s|%s|%s|%.6f|%s", paymentID, sw.wallet.Address(), recipient, amount, description)
	signature, err := sw.wallet.SignMessage([]byte(terms))
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}

	sw.spent += amount
	if recipientID, ok := l.byAddress[recipient]; ok {
		l.wallets[recipientID].received += amount
	}

	return &agentpay.PaymentReceipt{
		PaymentID: paymentID,
		Signature: signature,
	}, nil
}

// GetStatus reports whether the wallet is active and its remaining
// spendable balance (limit minus spent, plus funds received)
func (l *Local) GetStatus(ctx context.Context, walletID string) (*agentpay.WalletStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, ok := l.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("unknown wallet %s", walletID)
	}
	return &agentpay.WalletStatus{
		IsActive:         sw.active,
		RemainingBalance: sw.limit - sw.spent + sw.received,
	}, nil
}

// Deactivate turns the wallet off; further payments fail until the wallet
// is provisioned again
func (l *Local) Deactivate(walletID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, ok := l.wallets[walletID]
	if !ok {
		return fmt.Errorf("unknown wallet %s", walletID)
	}
	sw.active = false
	return nil
}

// MessageSigner exposes the wallet's signer so agents can sign outbound
// messages with their session wallet
func (l *Local) MessageSigner(walletID string) (agentpay.MessageSigner, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, ok := l.wallets[walletID]
	if !ok {
		return nil, false
	}
	return sw.wallet, true
}

// Ensure interfaces are satisfied
var (
	_ agentpay.PaymentProvider = (*Local)(nil)
	_ agentpay.SignerProvider  = (*Local)(nil)
)
