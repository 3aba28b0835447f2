// Package svm provides an SVM session-wallet backend using ed25519 keys.
// Addresses and signatures use base58, and signed payloads travel in a
// Borsh-encoded receipt envelope binding the payload to the signer.
package svm

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	"github.com/skymint/agentpay/wallet"
)

// ReceiptEnvelope binds a signed payload to the signing wallet. The
// envelope is Borsh encoded before signing so receipts round-trip
// deterministically.
type ReceiptEnvelope struct {
	Signer  solana.PublicKey
	Payload []byte
}

// Encode serializes the envelope with Borsh
func (e ReceiptEnvelope) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(e); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope deserializes a Borsh-encoded envelope
func DecodeEnvelope(data []byte) (ReceiptEnvelope, error) {
	var e ReceiptEnvelope
	if err := bin.NewBorshDecoder(data).Decode(&e); err != nil {
		return ReceiptEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// Wallet is an ed25519 session wallet with a base58 address
type Wallet struct {
	privateKey solana.PrivateKey
}

// NewWallet generates a fresh wallet with a random key
func NewWallet() (*Wallet, error) {
	account := solana.NewWallet()
	return &Wallet{privateKey: account.PrivateKey}, nil
}

// FromBase58 creates a wallet from a base58-encoded private key. Tests
// use it for deterministic wallets.
func FromBase58(privateKeyBase58 string) (*Wallet, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{privateKey: privateKey}, nil
}

// Address returns the wallet's base58 public key
func (w *Wallet) Address() string {
	return w.privateKey.PublicKey().String()
}

// Network identifies the backend family
func (w *Wallet) Network() string {
	return wallet.NetworkSVM
}

// SignMessage wraps the payload in a receipt envelope, signs the encoded
// envelope with ed25519, and returns the signature base58 encoded
func (w *Wallet) SignMessage(payload []byte) (string, error) {
	envelope := ReceiptEnvelope{
		Signer:  w.privateKey.PublicKey(),
		Payload: payload,
	}
	encoded, err := envelope.Encode()
	if err != nil {
		return "", err
	}

	signature, err := w.privateKey.Sign(encoded)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return signature.String(), nil
}

// Verify reports whether sigBase58 is a valid signature over payload by
// the holder of address
func Verify(address string, payload []byte, sigBase58 string) (bool, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("decode address: %w", err)
	}
	signature, err := solana.SignatureFromBase58(sigBase58)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	encoded, err := (ReceiptEnvelope{Signer: pubkey, Payload: payload}).Encode()
	if err != nil {
		return false, err
	}
	return signature.Verify(pubkey, encoded), nil
}

// Backend provisions SVM wallets
type Backend struct{}

// NewBackend creates an SVM wallet backend
func NewBackend() *Backend {
	return &Backend{}
}

// Network identifies the family this backend provisions for
func (b *Backend) Network() string {
	return wallet.NetworkSVM
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
