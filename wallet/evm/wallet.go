// Package evm provides an EVM session-wallet backend using secp256k1 keys.
// Signatures are EIP-191 personal-sign signatures, hex encoded.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/skymint/agentpay/wallet"
)

// Wallet is an ECDSA session wallet with a checksummed hex address
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewWallet generates a fresh wallet with a random key
func NewWallet() (*Wallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Wallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// FromHex creates a wallet from a hex-encoded private key, with or
// without a "0x" prefix. Tests use it for deterministic wallets.
func FromHex(privateKeyHex string) (*Wallet, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the wallet's checksummed hex address
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// Network identifies the backend family
func (w *Wallet) Network() string {
	return wallet.NetworkEVM
}

// SignMessage signs the payload with the EIP-191 personal-sign digest and
// returns the 65-byte signature hex encoded
func (w *Wallet) SignMessage(payload []byte) (string, error) {
	digest := accounts.TextHash(payload)

	signature, err := crypto.Sign(digest, w.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}

	// Recovery id 0/1 becomes 27/28, the customary Ethereum encoding
	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// Verify reports whether sigHex is a valid signature over payload by the
// holder of address
func Verify(address string, payload []byte, sigHex string) (bool, error) {
	signature, err := hexutil.Decode(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if len(signature) != crypto.SignatureLength {
		return false, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubkey, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return false, fmt.Errorf("recover signer: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pubkey)

	return recovered == common.HexToAddress(address), nil
}

// Backend provisions EVM wallets
type Backend struct{}

// NewBackend creates an EVM wallet backend
func NewBackend() *Backend {
	return &Backend{}
}

// Network identifies the family this backend provisions for
func (b *Backend) Network() string {
	return wallet.NetworkEVM
}

// NewWallet generates a fresh wallet
func (b *Backend) NewWallet() (wallet.Wallet, error) {
	return NewWallet()
}

// Ensure interfaces are satisfied
var (
	_ wallet.Wallet  = (*Wallet)(nil)
	_ wallet.Backend = (*Backend)(nil)
)
