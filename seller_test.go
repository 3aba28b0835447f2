package agentpay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentNotification(t *testing.T, from, to, paymentID string, amount float64) Message {
	t.Helper()
	msg, err := NewMessage(MessagePaymentNotification, from, to, PaymentNotificationPayload{
		PaymentID:            paymentID,
		Amount:               amount,
		Currency:             DefaultCurrency,
		TransactionSignature: "0xsig",
		RefundableUntil:      time.Now().UTC().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return msg
}

func TestHandleServiceRequest_Quotes(t *testing.T) {
	store := NewStore()
	seller := NewSellerAgent(store, &mockProvider{}, sellerProfile("seller_1", 0.01))
	require.NoError(t, seller.Initialize(context.Background()))

	msg, err := NewMessage(MessageServiceRequest, "buyer_1", "seller_1", ServiceRequestPayload{
		ServiceType: ServiceTokens,
		Quantity:    5,
	})
	require.NoError(t, err)

	require.NoError(t, seller.HandleMessage(context.Background(), msg))

	queue := store.GetMessages("buyer_1")
	require.Len(t, queue, 1)
	assert.Equal(t, MessageQuote, queue[0].Type)

	var quote QuotePayload
	require.NoError(t, queue[0].DecodePayload(&quote))
	assert.Equal(t, 0.05, quote.Price)
	assert.Equal(t, 5, quote.Quantity)
	assert.Equal(t, DefaultCurrency, quote.Currency)
	assert.Equal(t, 300, quote.DeliveryETASeconds)
}

func TestHandleServiceRequest_NoPricing(t *testing.T) {
	store := NewStore()
	profile := sellerProfile("seller_1", 0.01)
	profile.FixedPricing = map[string]float64{}
	seller := NewSellerAgent(store, &mockProvider{}, profile)

	msg, err := NewMessage(MessageServiceRequest, "buyer_1", "seller_1", ServiceRequestPayload{
		ServiceType: ServiceTokens,
		Quantity:    5,
	})
	require.NoError(t, err)

	err = seller.HandleMessage(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
	assert.Empty(t, store.GetMessages("buyer_1"))
}

func TestHandlePayment_DeliversAndCompletes(t *testing.T) {
	store := NewStore()
	seller := NewSellerAgent(store, &mockProvider{}, sellerProfile("seller_1", 0.01))
	require.NoError(t, seller.Initialize(context.Background()))

	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusDeliveryPending)))

	msg := paymentNotification(t, "buyer_1", "seller_1", "pay_1", 0.05)
	require.NoError(t, seller.HandleMessage(context.Background(), msg))

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "seller_1", p.LastEvent().Actor)
	require.NotNil(t, p.DeliveryConfirmedAt)

	queue := store.GetMessages("buyer_1")
	require.Len(t, queue, 1)
	assert.Equal(t, MessageDeliveryConfirmation, queue[0].Type)

	var confirmation DeliveryConfirmationPayload
	require.NoError(t, queue[0].DecodePayload(&confirmation))
	assert.Equal(t, "pay_1", confirmation.PaymentID)
}

func TestHandlePayment_DuplicateSendsOneConfirmation(t *testing.T) {
	store := NewStore()
	seller := NewSellerAgent(store, &mockProvider{}, sellerProfile("seller_1", 0.01))
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusDeliveryPending)))

	msg := paymentNotification(t, "buyer_1", "seller_1", "pay_1", 0.05)

	// Same message id delivered twice in one tick
	require.NoError(t, seller.HandleMessage(context.Background(), msg))
	require.NoError(t, seller.HandleMessage(context.Background(), msg))

	assert.Len(t, store.GetMessages("buyer_1"), 1, "exactly one delivery_confirmation")
	assert.Contains(t, logMessages(store), "Duplicate message "+msg.MessageID+" ignored")
}

func TestHandlePayment_WalletCheckFailureDoesNotBlock(t *testing.T) {
	store := NewStore()
	provider := &mockProvider{
		getStatus: func(ctx context.Context, walletID string) (*WalletStatus, error) {
			return nil, errors.New("provider offline")
		},
	}
	seller := NewSellerAgent(store, provider, sellerProfile("seller_1", 0.01))
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusDeliveryPending)))

	msg := paymentNotification(t, "buyer_1", "seller_1", "pay_1", 0.05)
	require.NoError(t, seller.HandleMessage(context.Background(), msg))

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Contains(t, logMessages(store), "Could not verify wallet status: provider offline")
}

func TestHandlePayment_UnknownPaymentPropagatesAndReleases(t *testing.T) {
	store := NewStore()
	seller := NewSellerAgent(store, &mockProvider{}, sellerProfile("seller_1", 0.01))

	msg := paymentNotification(t, "buyer_1", "seller_1", "pay_ghost", 0.05)

	err := seller.HandleMessage(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, store.GetMessages("buyer_1"))

	// Released: once the payment exists, the same message succeeds
	require.NoError(t, store.StorePayment(testPayment("pay_ghost", StatusDeliveryPending)))
	require.NoError(t, seller.HandleMessage(context.Background(), msg))
	assert.Len(t, store.GetMessages("buyer_1"), 1)
}

func TestHandlePayment_DeliveryDelayHonorsContext(t *testing.T) {
	store := NewStore()
	seller := NewSellerAgent(store, &mockProvider{}, sellerProfile("seller_1", 0.01),
		WithSellerDeliveryDelay(5*time.Second))
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusDeliveryPending)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := paymentNotification(t, "buyer_1", "seller_1", "pay_1", 0.05)
	err := seller.HandleMessage(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	p, getErr := store.GetPayment("pay_1")
	require.NoError(t, getErr)
	assert.Equal(t, StatusDeliveryPending, p.Status, "cancelled delivery must not complete the payment")
}

func TestSellerResetGuard_DropsLateWrites(t *testing.T) {
	store := NewStore()
	seller := NewSellerAgent(store, &mockProvider{}, sellerProfile("seller_1", 0.01),
		WithSellerResetGuard(func() bool { return false }))
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusDeliveryPending)))

	msg := paymentNotification(t, "buyer_1", "seller_1", "pay_1", 0.05)
	require.NoError(t, seller.HandleMessage(context.Background(), msg))

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusDeliveryPending, p.Status)
	assert.Empty(t, store.GetMessages("buyer_1"))
}

func TestSellerIgnoresUnexpectedType(t *testing.T) {
	store := NewStore()
	seller := NewSellerAgent(store, &mockProvider{}, sellerProfile("seller_1", 0.01))

	msg := quoteMessage(t, "buyer_1", "seller_1", 0.05, 5)
	require.NoError(t, seller.HandleMessage(context.Background(), msg))
	assert.Empty(t, store.GetMessages("buyer_1"))
}
