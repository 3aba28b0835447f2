package agentpay

import (
	"context"
)

// WalletInfo is the result of provisioning a session wallet
type WalletInfo struct {
	WalletID      string `json:"wallet_id"`
	WalletAddress string `json:"wallet_address"`
	Network       string `json:"network,omitempty"`
}

// PaymentReceipt is the result of a payment execution
type PaymentReceipt struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// WalletStatus is the result of a wallet status query
type WalletStatus struct {
	IsActive         bool    `json:"is_active"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// PaymentProvider is the external payment and wallet capability the agents
// consume. All calls are fallible remote calls; there is no compensating
// transaction on partial failure.
//
// Implementations must be safe for concurrent use.
type PaymentProvider interface {
	// CreateWallet provisions a session wallet for an owner with a
	// spending limit in DefaultCurrency.
	CreateWallet(ctx context.Context, ownerRef string, limit float64) (*WalletInfo, error)

	// MakePayment transfers amount to the recipient address on behalf of
	// the wallet. The description travels with the payment (e.g. the
	// purchased quantity) and ends up in the receipt trail.
	MakePayment(ctx context.Context, walletID string, amount float64, recipient, description string) (*PaymentReceipt, error)

	// GetStatus reports whether the wallet is active and its remaining
	// spendable balance.
	GetStatus(ctx context.Context, walletID string) (*WalletStatus, error)
}

// MessageSigner produces the opaque signature attached to outbound
// messages. Session wallet backends implement it.
type MessageSigner interface {
	SignMessage(payload []byte) (string, error)
}

// SignerProvider is an optional PaymentProvider capability exposing the
// message signer for a provisioned wallet. Providers holding keys locally
// implement it; remote providers typically don't, and messages then
// travel unsigned.
type SignerProvider interface {
	MessageSigner(walletID string) (MessageSigner, bool)
}

// Agent is a protocol participant the router can deliver messages to
type Agent interface {
	// ID returns the agent's stable identifier
	ID() string

	// Initialize registers the agent's profile with the store
	Initialize(ctx context.Context) error

	// HandleMessage processes one inbound message. Implementations must
	// deduplicate by message id: a repeated id produces no side effects
	// beyond a duplicate-suppressed log entry.
	HandleMessage(ctx context.Context, msg Message) error
}

// LogSink receives a copy of every transaction log entry the store
// appends. Sink failures never fail the logging caller; the store counts
// them and keeps going.
type LogSink interface {
	Append(entry LogEntry) error
}

// PayloadValidator checks a message payload against the wire shape for
// its type before the router dispatches it
type PayloadValidator interface {
	Validate(msgType MessageType, payload []byte) error
}
