package svm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skymint/agentpay/wallet"
)

func TestSignAndVerify(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	payload := []byte("pay_1|buyer|seller|0.050000|5 tokens")
	sig, err := w.SignMessage(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	ok, err := Verify(w.Address(), payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	sig, err := w.SignMessage([]byte("original"))
	require.NoError(t, err)

	ok, err := Verify(w.Address(), []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_RejectsWrongSigner(t *testing.T) {
	w1, err := NewWallet()
	require.NoError(t, err)
	w2, err := NewWallet()
	require.NoError(t, err)

	payload := []byte("payload")
	sig, err := w1.SignMessage(payload)
	require.NoError(t, err)

	// The envelope binds the payload to the signer, so verification
	// against a different wallet fails
	ok, err := Verify(w2.Address(), payload, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_MalformedInputs(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	_, err = Verify("not base58!", []byte("payload"), "whatever")
	assert.Error(t, err)

	_, err = Verify(w.Address(), []byte("payload"), "not base58!")
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	envelope := ReceiptEnvelope{
		Signer:  w.privateKey.PublicKey(),
		Payload: []byte("5 tokens"),
	}

	encoded, err := envelope.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, envelope.Signer, decoded.Signer)
	assert.Equal(t, envelope.Payload, decoded.Payload)
}

func TestFromBase58_RoundTrip(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	restored, err := FromBase58(w.privateKey.String())
	require.NoError(t, err)
	assert.Equal(t, w.Address(), restored.Address())

	_, err = FromBase58("not a key")
	assert.Error(t, err)
}

func TestBackend(t *testing.T) {
	b := NewBackend()
	assert.Equal(t, wallet.NetworkSVM, b.Network())

	w, err := b.NewWallet()
	require.NoError(t, err)
	assert.Equal(t, wallet.NetworkSVM, w.Network())
	assert.NotEmpty(t, w.Address())
}
