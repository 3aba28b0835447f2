// Package wallet defines the local session-wallet abstraction used by the
// in-process payment provider. A wallet is a signing identity with an
// on-network address; backends provision wallets per network family.
package wallet

// Network family identifiers
const (
	NetworkEVM = "evm"
	NetworkSVM = "svm"
)

// Wallet is a local signing identity used as a session wallet
type Wallet interface {
	// Address returns the wallet's on-network address
	Address() string

	// Network identifies the backend family the wallet belongs to
	Network() string

	// SignMessage signs an arbitrary payload and returns the signature
	// in the network's customary encoding (hex for EVM, base58 for SVM)
	SignMessage(payload []byte) (string, error)
}

// Backend provisions wallets for one network family
type Backend interface {
	// Network identifies the family this backend provisions for
	Network() string

	// NewWallet generates a fresh wallet
	NewWallet() (Wallet, error)
}
