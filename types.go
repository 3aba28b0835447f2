package agentpay

import (
	"encoding/json"
	"time"
)

// PaymentStatus identifies a stage in the payment lifecycle
type PaymentStatus string

const (
	StatusInitiated       PaymentStatus = "INITIATED"
	StatusQuoteReceived   PaymentStatus = "QUOTE_RECEIVED"
	StatusPaymentSent     PaymentStatus = "PAYMENT_SENT"
	StatusDeliveryPending PaymentStatus = "DELIVERY_PENDING"
	StatusDisputed        PaymentStatus = "DISPUTED"
	StatusCompleted       PaymentStatus = "COMPLETED"
	StatusRefunded        PaymentStatus = "REFUNDED"
)

// AllowedNext returns the set of statuses a payment in this status may move to.
// Terminal and unknown statuses return an empty set.
func (s PaymentStatus) AllowedNext() []PaymentStatus {
	switch s {
	case StatusInitiated:
		return []PaymentStatus{StatusQuoteReceived}
	case StatusQuoteReceived:
		return []PaymentStatus{StatusPaymentSent}
	case StatusPaymentSent:
		return []PaymentStatus{StatusDeliveryPending, StatusDisputed}
	case StatusDeliveryPending:
		return []PaymentStatus{StatusCompleted, StatusDisputed, StatusRefunded}
	case StatusDisputed:
		return []PaymentStatus{StatusRefunded, StatusCompleted}
	case StatusCompleted, StatusRefunded:
		return []PaymentStatus{}
	default:
		return []PaymentStatus{}
	}
}

// CanTransitionTo reports whether moving to next is legal from this status
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range s.AllowedNext() {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded:
		return true
	}
	return false
}

// Valid reports whether s is one of the defined lifecycle statuses
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusQuoteReceived, StatusPaymentSent,
		StatusDeliveryPending, StatusDisputed, StatusCompleted, StatusRefunded:
		return true
	}
	return false
}

// MessageType identifies the protocol role of a message
type MessageType string

const (
	MessageServiceRequest       MessageType = "service_request"
	MessageQuote                MessageType = "quote"
	MessagePaymentNotification  MessageType = "payment_notification"
	MessageDeliveryConfirmation MessageType = "delivery_confirmation"
)

// Valid reports whether t is one of the defined message types
func (t MessageType) Valid() bool {
	switch t {
	case MessageServiceRequest, MessageQuote, MessagePaymentNotification, MessageDeliveryConfirmation:
		return true
	}
	return false
}

// LogType classifies a transaction log entry
type LogType string

const (
	LogSent     LogType = "sent"
	LogReceived LogType = "received"
	LogMessage  LogType = "message"
)

// DefaultCurrency is the denomination used for quotes and payments
const DefaultCurrency = "USD"

// WalletRef is an opaque reference to a provider-managed session wallet
type WalletRef struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
	Network  string `json:"network,omitempty"`
}

// AgentProfile is the identity and capability record for a participant
type AgentProfile struct {
	AgentID       string             `json:"agent_id"`
	AgentName     string             `json:"agent_name"`
	Services      []string           `json:"services"`
	FixedPricing  map[string]float64 `json:"fixed_pricing"`
	SessionWallet WalletRef          `json:"session_wallet"`
	IsOnline      bool               `json:"is_online"`
}

// Offers reports whether the agent advertises the given service
func (p AgentProfile) Offers(serviceType string) bool {
	for _, s := range p.Services {
		if s == serviceType {
			return true
		}
	}
	return false
}

// UnitPrice returns the agent's fixed per-unit price for a service
func (p AgentProfile) UnitPrice(serviceType string) (float64, bool) {
	price, ok := p.FixedPricing[serviceType]
	return price, ok
}

// Message is an asynchronous, at-most-once-per-id unit of communication
// between two agents. The payload is a JSON document whose shape depends
// on Type. Signature is an opaque authenticity token produced by the
// sender's session wallet; the core never verifies it.
type Message struct {
	MessageID   string          `json:"message_id"`
	Type        MessageType     `json:"type"`
	FromAgentID string          `json:"from_agent_id"`
	ToAgentID   string          `json:"to_agent_id"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
	Signature   string          `json:"signature,omitempty"`
}

// NewMessage builds a message with a fresh id, the current time, and the
// payload marshaled to JSON
func NewMessage(msgType MessageType, from, to string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, NewValidationError("encode message payload", map[string]interface{}{
			"type":  string(msgType),
			"error": err.Error(),
		})
	}
	return Message{
		MessageID:   GenerateMessageID(),
		Type:        msgType,
		FromAgentID: from,
		ToAgentID:   to,
		Payload:     raw,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// DecodePayload unmarshals the message payload into out
func (m Message) DecodePayload(out interface{}) error {
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return NewValidationError("decode message payload", map[string]interface{}{
			"message_id": m.MessageID,
			"type":       string(m.Type),
			"error":      err.Error(),
		})
	}
	return nil
}

// ServiceRequestPayload asks a seller for a quantity of a service
type ServiceRequestPayload struct {
	ServiceType string `json:"service_type"`
	Quantity    int    `json:"quantity"`
}

// QuotePayload is a seller's price offer for a requested quantity
type QuotePayload struct {
	ServiceType        string  `json:"service_type"`
	Quantity           int     `json:"quantity"`
	Price              float64 `json:"price"`
	Currency           string  `json:"currency"`
	DeliveryETASeconds int     `json:"delivery_eta_seconds"`
}

// PaymentNotificationPayload tells the seller a payment has been sent
type PaymentNotificationPayload struct {
	PaymentID            string    `json:"payment_id"`
	Amount               float64   `json:"amount"`
	Currency             string    `json:"currency"`
	TransactionSignature string    `json:"transaction_signature"`
	RefundableUntil      time.Time `json:"refundable_until"`
}

// DeliveryConfirmationPayload tells the buyer delivery has completed
type DeliveryConfirmationPayload struct {
	PaymentID   string    `json:"payment_id"`
	DeliveredAt time.Time `json:"delivered_at"`
	Note        string    `json:"note,omitempty"`
}

// PaymentEvent is one immutable entry in a payment's audit trail
type PaymentEvent struct {
	Status    PaymentStatus          `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Payment tracks one purchase from initiation to terminal resolution.
// Status always equals the status of the last element of Events, and
// Events is never empty once the payment has been stored.
type Payment struct {
	PaymentID            string         `json:"payment_id"`
	Status               PaymentStatus  `json:"status"`
	BuyerAgentID         string         `json:"buyer_agent_id"`
	SellerAgentID        string         `json:"seller_agent_id"`
	Amount               float64        `json:"amount"`
	Currency             string         `json:"currency"`
	ServiceType          string         `json:"service_type"`
	TransactionSignature string         `json:"transaction_signature,omitempty"`
	Events               []PaymentEvent `json:"events"`
	RefundableUntil      time.Time      `json:"refundable_until"`
	DeliveryConfirmedAt  *time.Time     `json:"delivery_confirmed_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// LastEvent returns the most recently appended event, or nil if none
func (p *Payment) LastEvent() *PaymentEvent {
	if len(p.Events) == 0 {
		return nil
	}
	return &p.Events[len(p.Events)-1]
}

// Clone returns a deep copy safe to hand to callers
func (p Payment) Clone() Payment {
	out := p
	out.Events = make([]PaymentEvent, len(p.Events))
	for i, ev := range p.Events {
		out.Events[i] = ev
		if ev.Metadata != nil {
			md := make(map[string]interface{}, len(ev.Metadata))
			for k, v := range ev.Metadata {
				md[k] = v
			}
			out.Events[i].Metadata = md
		}
	}
	if p.DeliveryConfirmedAt != nil {
		t := *p.DeliveryConfirmedAt
		out.DeliveryConfirmedAt = &t
	}
	return out
}

// LogEntry is an append-only observability record. Entries are consumed
// by external viewers and never drive control decisions.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agent_id"`
	Type      LogType                `json:"type"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
