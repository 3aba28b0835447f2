package agentpay

import (
	"context"
	"fmt"
	"time"

	"github.com/skymint/agentpay/dedup"
)

// DefaultRefundWindow is how long after paying the buyer may dispute and
// reclaim funds
const DefaultRefundWindow = 24 * time.Hour

// BuyerAgent drives the demand side of the protocol: it discovers a
// provider agent, requests a quote, and on receiving a quote pays
// autonomously and advances the payment state. Inbound messages are
// deduplicated by id.
type BuyerAgent struct {
	profile      AgentProfile
	store        *Store
	provider     PaymentProvider
	deduper      dedup.Deduper
	signer       MessageSigner
	serviceType  string
	refundWindow time.Duration
	now          func() time.Time
	alive        func() bool
}

// BuyerOption configures a BuyerAgent
type BuyerOption func(*BuyerAgent)

// WithBuyerDeduper sets the deduplication backend for inbound messages
func WithBuyerDeduper(d dedup.Deduper) BuyerOption {
	return func(b *BuyerAgent) {
		b.deduper = d
	}
}

// WithBuyerSigner sets the wallet signer for outbound messages
func WithBuyerSigner(signer MessageSigner) BuyerOption {
	return func(b *BuyerAgent) {
		b.signer = signer
	}
}

// WithBuyerServiceType sets the service the buyer purchases
func WithBuyerServiceType(serviceType string) BuyerOption {
	return func(b *BuyerAgent) {
		b.serviceType = serviceType
	}
}

// WithBuyerRefundWindow sets the refund window applied to new payments
func WithBuyerRefundWindow(window time.Duration) BuyerOption {
	return func(b *BuyerAgent) {
		b.refundWindow = window
	}
}

// WithBuyerClock overrides the time source (tests)
func WithBuyerClock(now func() time.Time) BuyerOption {
	return func(b *BuyerAgent) {
		b.now = now
	}
}

// WithBuyerResetGuard installs a liveness check consulted before writes
// that follow a suspension point (the provider call). When the check
// reports false the write is dropped, which keeps an operation that
// outlived a reset from writing into the cleared store.
func WithBuyerResetGuard(alive func() bool) BuyerOption {
	return func(b *BuyerAgent) {
		b.alive = alive
	}
}

// NewBuyerAgent creates a buyer agent backed by the given store and
// payment provider
func NewBuyerAgent(store *Store, provider PaymentProvider, profile AgentProfile, opts ...BuyerOption) *BuyerAgent {
	b := &BuyerAgent{
		profile:      profile,
		store:        store,
		provider:     provider,
		serviceType:  ServiceTokens,
		refundWindow: DefaultRefundWindow,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.deduper == nil {
		b.deduper = dedup.NewMemory()
	}

	return b
}

// ID returns the buyer's agent id
func (b *BuyerAgent) ID() string {
	return b.profile.AgentID
}

// Profile returns a copy of the buyer's profile
func (b *BuyerAgent) Profile() AgentProfile {
	return cloneProfile(b.profile)
}

// Initialize registers the buyer in the store and marks it online
func (b *BuyerAgent) Initialize(ctx context.Context) error {
	b.profile.IsOnline = true
	if err := b.store.RegisterAgent(b.profile); err != nil {
		return err
	}
	b.log(LogMessage, fmt.Sprintf("Buyer agent %s online", b.profile.AgentName), map[string]interface{}{
		"wallet_address": b.profile.SessionWallet.Address,
	})
	return nil
}

// PurchaseTokens looks up a registered agent offering the buyer's service
// and sends it a service request for the given quantity. It fails with a
// no_provider error when no registered agent offers the service; in that
// case no message is sent and no payment is created.
func (b *BuyerAgent) PurchaseTokens(ctx context.Context, quantity int) error {
	if quantity <= 0 {
		return NewValidationError("quantity must be positive", map[string]interface{}{
			"quantity": quantity,
		})
	}

	seller, found := first(b.store.ListAgents(), func(a AgentProfile) bool {
		return a.AgentID != b.ID() && a.Offers(b.serviceType)
	})
	if !found {
		b.log(LogMessage, fmt.Sprintf("No provider found for service %q", b.serviceType), nil)
		return NewNoProviderError(b.serviceType)
	}

	msg, err := NewMessage(MessageServiceRequest, b.ID(), seller.AgentID, ServiceRequestPayload{
		ServiceType: b.serviceType,
		Quantity:    quantity,
	})
	if err != nil {
		return err
	}
	if err := signOutbound(b.signer, &msg); err != nil {
		return err
	}
	if err := b.store.StoreMessage(msg); err != nil {
		return err
	}

	b.log(LogSent, fmt.Sprintf("Requested quote for %d %s from %s", quantity, b.serviceType, seller.AgentName), map[string]interface{}{
		"message_id": msg.MessageID,
		"to":         seller.AgentID,
		"quantity":   quantity,
	})
	return nil
}

// HandleMessage processes one inbound message. The message id is marked
// as processed before dispatch so a concurrent duplicate is suppressed;
// if dispatch fails the id is released again so a redelivery can retry.
func (b *BuyerAgent) HandleMessage(ctx context.Context, msg Message) error {
	if !b.deduper.Mark(msg.MessageID) {
		b.log(LogMessage, fmt.Sprintf("Duplicate message %s ignored", msg.MessageID), map[string]interface{}{
			"message_id": msg.MessageID,
			"type":       string(msg.Type),
		})
		return nil
	}

	if err := b.dispatch(ctx, msg); err != nil {
		b.deduper.Release(msg.MessageID)
		b.log(LogMessage, fmt.Sprintf("Failed to handle %s %s: %v", msg.Type, msg.MessageID, err), map[string]interface{}{
			"message_id": msg.MessageID,
		})
		return err
	}
	return nil
}

func (b *BuyerAgent) dispatch(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageQuote:
		return b.handleQuote(ctx, msg)
	case MessageDeliveryConfirmation:
		return b.handleDelivery(msg)
	default:
		b.log(LogMessage, fmt.Sprintf("Ignoring unexpected %s message", msg.Type), map[string]interface{}{
			"message_id": msg.MessageID,
			"from":       msg.FromAgentID,
		})
		return nil
	}
}

// handleQuote accepts the quoted price unconditionally, executes the
// payment through the provider, records the payment, advances it to
// DELIVERY_PENDING, and notifies the seller. A provider failure is
// logged and propagated without creating a payment record; the quote is
// dropped rather than retried.
func (b *BuyerAgent) handleQuote(ctx context.Context, msg Message) error {
	var quote QuotePayload
	if err := msg.DecodePayload(&quote); err != nil {
		return err
	}

	b.log(LogReceived, fmt.Sprintf("Received quote: %s for %d %s", FormatAmount(quote.Price), quote.Quantity, quote.ServiceType), map[string]interface{}{
		"message_id": msg.MessageID,
		"price":      quote.Price,
		"quantity":   quote.Quantity,
	})

	seller, err := b.store.GetAgent(msg.FromAgentID)
	if err != nil {
		return err
	}

	description := fmt.Sprintf("%d %s", quote.Quantity, quote.ServiceType)
	receipt, err := b.provider.MakePayment(ctx, b.profile.SessionWallet.WalletID, quote.Price, seller.SessionWallet.Address, description)
	if err != nil {
		b.log(LogMessage, fmt.Sprintf("Payment of %s failed: %v", FormatAmount(quote.Price), err), map[string]interface{}{
			"message_id": msg.MessageID,
		})
		return NewProviderCallError("makePayment", err)
	}

	if b.alive != nil && !b.alive() {
		return nil
	}

	now := b.now()
	currency := quote.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	payment := Payment{
		PaymentID:            receipt.PaymentID,
		Status:               StatusPaymentSent,
		BuyerAgentID:         b.ID(),
		SellerAgentID:        seller.AgentID,
		Amount:               quote.Price,
		Currency:             currency,
		ServiceType:          quote.ServiceType,
		TransactionSignature: receipt.Signature,
		RefundableUntil:      now.Add(b.refundWindow),
		CreatedAt:            now,
		Events: []PaymentEvent{{
			Status:    StatusPaymentSent,
			Timestamp: now,
			Actor:     b.ID(),
			Metadata: map[string]interface{}{
				"quote_price": quote.Price,
				"quantity":    quote.Quantity,
			},
		}},
	}
	if err := b.store.StorePayment(payment); err != nil {
		return err
	}
	if err := b.store.Transition(payment.PaymentID, StatusDeliveryPending, b.ID(), map[string]interface{}{
		"transaction_signature": sigFragment(receipt.Signature),
	}); err != nil {
		return err
	}

	b.log(LogSent, fmt.Sprintf("Paid %s to %s for %s", FormatAmount(quote.Price), seller.AgentName, description), map[string]interface{}{
		"payment_id": payment.PaymentID,
		"amount":     quote.Price,
		"signature":  sigFragment(receipt.Signature),
	})

	notification, err := NewMessage(MessagePaymentNotification, b.ID(), seller.AgentID, PaymentNotificationPayload{
		PaymentID:            payment.PaymentID,
		Amount:               quote.Price,
		Currency:             currency,
		TransactionSignature: receipt.Signature,
		RefundableUntil:      payment.RefundableUntil,
	})
	if err != nil {
		return err
	}
	if err := signOutbound(b.signer, &notification); err != nil {
		return err
	}
	return b.store.StoreMessage(notification)
}

// handleDelivery is informational: it logs the confirmation and checks
// the stored payment actually completed, warning on mismatch without
// mutating any state.
func (b *BuyerAgent) handleDelivery(msg Message) error {
	var confirmation DeliveryConfirmationPayload
	if err := msg.DecodePayload(&confirmation); err != nil {
		return err
	}

	b.log(LogReceived, fmt.Sprintf("Delivery confirmed for payment %s", confirmation.PaymentID), map[string]interface{}{
		"message_id": msg.MessageID,
		"payment_id": confirmation.PaymentID,
	})

	payment, err := b.store.GetPayment(confirmation.PaymentID)
	if err != nil {
		b.log(LogMessage, fmt.Sprintf("Delivery confirmation references unknown payment %s", confirmation.PaymentID), nil)
		return nil
	}
	if payment.Status != StatusCompleted {
		b.log(LogMessage, fmt.Sprintf("Delivery confirmed but payment %s is %s", confirmation.PaymentID, payment.Status), map[string]interface{}{
			"payment_id": confirmation.PaymentID,
			"status":     string(payment.Status),
		})
	}
	return nil
}

func (b *BuyerAgent) log(logType LogType, message string, data map[string]interface{}) {
	b.store.AddLog(LogEntry{
		AgentID: b.ID(),
		Type:    logType,
		Message: message,
		Data:    data,
	})
}

// Ensure BuyerAgent implements Agent
var _ Agent = (*BuyerAgent)(nil)
