package agentpay

import (
	"context"
	"fmt"
	"time"

	"github.com/skymint/agentpay/dedup"
)

// DeliveryETA is the advisory delivery estimate quoted to buyers. It is
// not enforced.
const DeliveryETA = 5 * time.Minute

// SellerAgent drives the supply side of the protocol: it answers service
// requests with quotes and, on a payment notification, performs simulated
// delivery, completes the payment, and confirms delivery to the buyer.
// Inbound messages are deduplicated by id.
type SellerAgent struct {
	profile       AgentProfile
	store         *Store
	provider      PaymentProvider
	deduper       dedup.Deduper
	signer        MessageSigner
	deliveryDelay time.Duration
	now           func() time.Time
	alive         func() bool
}

// SellerOption configures a SellerAgent
type SellerOption func(*SellerAgent)

// WithSellerDeduper sets the deduplication backend for inbound messages
func WithSellerDeduper(d dedup.Deduper) SellerOption {
	return func(s *SellerAgent) {
		s.deduper = d
	}
}

// WithSellerSigner sets the wallet signer for outbound messages
func WithSellerSigner(signer MessageSigner) SellerOption {
	return func(s *SellerAgent) {
		s.signer = signer
	}
}

// WithSellerDeliveryDelay sets the simulated fulfillment delay applied
// before a payment is completed. Zero delivers immediately.
func WithSellerDeliveryDelay(delay time.Duration) SellerOption {
	return func(s *SellerAgent) {
		s.deliveryDelay = delay
	}
}

// WithSellerClock overrides the time source (tests)
func WithSellerClock(now func() time.Time) SellerOption {
	return func(s *SellerAgent) {
		s.now = now
	}
}

// WithSellerResetGuard installs a liveness check consulted before writes
// that follow a suspension point (the delivery delay). When the check
// reports false the write is dropped.
func WithSellerResetGuard(alive func() bool) SellerOption {
	return func(s *SellerAgent) {
		s.alive = alive
	}
}

// NewSellerAgent creates a seller agent backed by the given store and
// payment provider
func NewSellerAgent(store *Store, provider PaymentProvider, profile AgentProfile, opts ...SellerOption) *SellerAgent {
	s := &SellerAgent{
		profile:  profile,
		store:    store,
		provider: provider,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.deduper == nil {
		s.deduper = dedup.NewMemory()
	}

	return s
}

// ID returns the seller's agent id
func (s *SellerAgent) ID() string {
	return s.profile.AgentID
}

// Profile returns a copy of the seller's profile
func (s *SellerAgent) Profile() AgentProfile {
	return cloneProfile(s.profile)
}

// Initialize registers the seller in the store and marks it online
func (s *SellerAgent) Initialize(ctx context.Context) error {
	s.profile.IsOnline = true
	if err := s.store.RegisterAgent(s.profile); err != nil {
		return err
	}
	s.log(LogMessage, fmt.Sprintf("Seller agent %s online", s.profile.AgentName), map[string]interface{}{
		"wallet_address": s.profile.SessionWallet.Address,
		"services":       s.profile.Services,
	})
	return nil
}

// HandleMessage processes one inbound message with the same dedup gate
// as the buyer: mark before dispatch, release on failure.
func (s *SellerAgent) HandleMessage(ctx context.Context, msg Message) error {
	if !s.deduper.Mark(msg.MessageID) {
		s.log(LogMessage, fmt.Sprintf("Duplicate message %s ignored", msg.MessageID), map[string]interface{}{
			"message_id": msg.MessageID,
			"type":       string(msg.Type),
		})
		return nil
	}

	if err := s.dispatch(ctx, msg); err != nil {
		s.deduper.Release(msg.MessageID)
		s.log(LogMessage, fmt.Sprintf("Failed to handle %s %s: %v", msg.Type, msg.MessageID, err), map[string]interface{}{
			"message_id": msg.MessageID,
		})
		return err
	}
	return nil
}

func (s *SellerAgent) dispatch(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageServiceRequest:
		return s.handleServiceRequest(msg)
	case MessagePaymentNotification:
		return s.handlePayment(ctx, msg)
	default:
		s.log(LogMessage, fmt.Sprintf("Ignoring unexpected %s message", msg.Type), map[string]interface{}{
			"message_id": msg.MessageID,
			"from":       msg.FromAgentID,
		})
		return nil
	}
}

// handleServiceRequest prices the requested quantity from the seller's
// fixed per-service pricing and replies with a quote
func (s *SellerAgent) handleServiceRequest(msg Message) error {
	var req ServiceRequestPayload
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}

	s.log(LogReceived, fmt.Sprintf("Received request for %d %s", req.Quantity, req.ServiceType), map[string]interface{}{
		"message_id": msg.MessageID,
		"from":       msg.FromAgentID,
		"quantity":   req.Quantity,
	})

	unitPrice, ok := s.profile.UnitPrice(req.ServiceType)
	if !ok {
		return NewValidationError(fmt.Sprintf("no pricing for service %q", req.ServiceType), map[string]interface{}{
			"message_id":   msg.MessageID,
			"service_type": req.ServiceType,
		})
	}
	price := float64(req.Quantity) * unitPrice

	quote, err := NewMessage(MessageQuote, s.ID(), msg.FromAgentID, QuotePayload{
		ServiceType:        req.ServiceType,
		Quantity:           req.Quantity,
		Price:              price,
		Currency:           DefaultCurrency,
		DeliveryETASeconds: int(DeliveryETA.Seconds()),
	})
	if err != nil {
		return err
	}
	if err := signOutbound(s.signer, &quote); err != nil {
		return err
	}
	if err := s.store.StoreMessage(quote); err != nil {
		return err
	}

	s.log(LogSent, fmt.Sprintf("Quoted %s for %d %s", FormatAmount(price), req.Quantity, req.ServiceType), map[string]interface{}{
		"message_id": quote.MessageID,
		"price":      price,
		"quantity":   req.Quantity,
	})
	return nil
}

// handlePayment checks the wallet best-effort, performs simulated
// delivery, completes the payment, and confirms delivery to the buyer.
// The wallet check is trust-but-log: a failure never blocks delivery.
func (s *SellerAgent) handlePayment(ctx context.Context, msg Message) error {
	var notification PaymentNotificationPayload
	if err := msg.DecodePayload(&notification); err != nil {
		return err
	}

	s.log(LogReceived, fmt.Sprintf("Payment notification for %s (%s)", notification.PaymentID, FormatAmount(notification.Amount)), map[string]interface{}{
		"message_id": msg.MessageID,
		"payment_id": notification.PaymentID,
		"amount":     notification.Amount,
		"signature":  sigFragment(notification.TransactionSignature),
	})

	if status, err := s.provider.GetStatus(ctx, s.profile.SessionWallet.WalletID); err != nil {
		s.log(LogMessage, fmt.Sprintf("Could not verify wallet status: %v", err), map[string]interface{}{
			"payment_id": notification.PaymentID,
		})
	} else {
		s.log(LogMessage, fmt.Sprintf("Wallet balance is %s", FormatAmount(status.RemainingBalance)), map[string]interface{}{
			"payment_id": notification.PaymentID,
			"is_active":  status.IsActive,
		})
	}

	if s.deliveryDelay > 0 {
		select {
		case <-time.After(s.deliveryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.alive != nil && !s.alive() {
		return nil
	}

	now := s.now()
	if err := s.store.Transition(notification.PaymentID, StatusCompleted, s.ID(), map[string]interface{}{
		"delivered_at": now.Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}

	s.log(LogMessage, fmt.Sprintf("Delivered order for payment %s", notification.PaymentID), map[string]interface{}{
		"payment_id": notification.PaymentID,
	})

	confirmation, err := NewMessage(MessageDeliveryConfirmation, s.ID(), msg.FromAgentID, DeliveryConfirmationPayload{
		PaymentID:   notification.PaymentID,
		DeliveredAt: now,
		Note:        "delivery complete",
	})
	if err != nil {
		return err
	}
	if err := signOutbound(s.signer, &confirmation); err != nil {
		return err
	}
	if err := s.store.StoreMessage(confirmation); err != nil {
		return err
	}

	s.log(LogSent, fmt.Sprintf("Confirmed delivery for payment %s", notification.PaymentID), map[string]interface{}{
		"message_id": confirmation.MessageID,
		"payment_id": notification.PaymentID,
	})
	return nil
}

func (s *SellerAgent) log(logType LogType, message string, data map[string]interface{}) {
	s.store.AddLog(LogEntry{
		AgentID: s.ID(),
		Type:    logType,
		Message: message,
		Data:    data,
	})
}

// Ensure SellerAgent implements Agent
var _ Agent = (*SellerAgent)(nil)
