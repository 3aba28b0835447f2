package agentpay

import (
	"sort"
	"sync"
	"time"
)

// TransitionHook observes successful payment transitions. Hooks run after
// the store lock is released; they must not assume the payment is still in
// the observed state.
type TransitionHook func(payment Payment, event PaymentEvent)

// Store is the single source of truth for the agent registry, per-agent
// message queues, payment records, and the append-only transaction log.
// It is the only component permitted to mutate a payment, and Transition
// is the only mutation path for a payment's status and event history.
//
// All methods are safe for concurrent use; each call is mutually
// exclusive, which also serializes transitions per payment id.
type Store struct {
	mu sync.RWMutex

	agents     map[string]*AgentProfile
	agentOrder []string
	queues     map[string][]Message
	payments   map[string]*Payment
	logs       []LogEntry

	sinks           []LogSink
	transitionHooks []TransitionHook
	sinkErrors      uint64
	now             func() time.Time
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithClock overrides the store's time source. Used by tests to pin
// refund-window and event timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogSink attaches a sink that receives a copy of every log entry
func WithLogSink(sink LogSink) StoreOption {
	return func(s *Store) {
		s.sinks = append(s.sinks, sink)
	}
}

// WithTransitionHook registers an observer for successful transitions
func WithTransitionHook(hook TransitionHook) StoreOption {
	return func(s *Store) {
		s.transitionHooks = append(s.transitionHooks, hook)
	}
}

// NewStore creates an empty store. Each store is fully isolated; tests
// construct one per case instead of sharing process state.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		agents:   make(map[string]*AgentProfile),
		queues:   make(map[string][]Message),
		payments: make(map[string]*Payment),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ============================================================================
// Agent registry
// ============================================================================

// RegisterAgent inserts or replaces an agent profile
func (s *Store) RegisterAgent(profile AgentProfile) error {
	if profile.AgentID == "" {
		return NewValidationError("agent_id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[profile.AgentID]; !exists {
		s.agentOrder = append(s.agentOrder, profile.AgentID)
	}
	p := cloneProfile(profile)
	s.agents[profile.AgentID] = &p
	return nil
}

// GetAgent returns a copy of the agent's profile
func (s *Store) GetAgent(agentID string) (AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.agents[agentID]
	if !ok {
		return AgentProfile{}, NewNotFoundError("agent", agentID)
	}
	return cloneProfile(*p), nil
}

// ListAgents returns all registered profiles in registration order
func (s *Store) ListAgents() []AgentProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AgentProfile, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		if p, ok := s.agents[id]; ok {
			out = append(out, cloneProfile(*p))
		}
	}
	return out
}

// SetAgentOnline flips the agent's online flag
func (s *Store) SetAgentOnline(agentID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.agents[agentID]
	if !ok {
		return NewNotFoundError("agent", agentID)
	}
	p.IsOnline = online
	return nil
}

func cloneProfile(p AgentProfile) AgentProfile {
	out := p
	out.Services = append([]string(nil), p.Services...)
	if p.FixedPricing != nil {
		pricing := make(map[string]float64, len(p.FixedPricing))
		for k, v := range p.FixedPricing {
			pricing[k] = v
		}
		out.FixedPricing = pricing
	}
	return out
}

// ============================================================================
// Message queues
// ============================================================================

// StoreMessage appends a message to the recipient's inbound queue
func (s *Store) StoreMessage(msg Message) error {
	if msg.MessageID == "" {
		return NewValidationError("message_id is required", nil)
	}
	if msg.ToAgentID == "" {
		return NewValidationError("to_agent_id is required", map[string]interface{}{
			"message_id": msg.MessageID,
		})
	}
	if !msg.Type.Valid() {
		return NewValidationError("unknown message type", map[string]interface{}{
			"message_id": msg.MessageID,
			"type":       string(msg.Type),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queues[msg.ToAgentID] = append(s.queues[msg.ToAgentID], msg)
	return nil
}

// GetMessages returns a copy of the agent's queue without removing it
func (s *Store) GetMessages(agentID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Message(nil), s.queues[agentID]...)
}

// ClearMessages atomically empties the agent's queue
func (s *Store) ClearMessages(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queues, agentID)
}

// DrainMessages returns the agent's queued messages and empties the queue
// in one critical section. Messages enqueued after the drain (for example
// replies produced while the batch is being dispatched) stay queued for
// the next drain.
func (s *Store) DrainMessages(agentID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.queues[agentID]
	delete(s.queues, agentID)
	return msgs
}

// ============================================================================
// Payments
// ============================================================================

// StorePayment inserts a payment record. If the events sequence is empty
// it is seeded with one event carrying the payment's initial status, the
// current time, and the buyer as actor. Re-storing an existing id
// replaces the record entirely, history included (last write wins).
func (s *Store) StorePayment(p Payment) error {
	if p.PaymentID == "" {
		return NewValidationError("payment_id is required", nil)
	}
	if !p.Status.Valid() {
		return NewValidationError("unknown payment status", map[string]interface{}{
			"payment_id": p.PaymentID,
			"status":     string(p.Status),
		})
	}
	if p.Amount <= 0 {
		return NewValidationError("amount must be positive", map[string]interface{}{
			"payment_id": p.PaymentID,
			"amount":     p.Amount,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := p.Clone()
	if stored.Currency == "" {
		stored.Currency = DefaultCurrency
	}
	if len(stored.Events) == 0 {
		stored.Events = []PaymentEvent{{
			Status:    stored.Status,
			Timestamp: now,
			Actor:     stored.BuyerAgentID,
		}}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.payments[stored.PaymentID] = &stored
	return nil
}

// GetPayment returns a deep copy of the payment record
func (s *Store) GetPayment(paymentID string) (Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, NewNotFoundError("payment", paymentID)
	}
	return p.Clone(), nil
}

// ListPayments returns all payments ordered by creation time
func (s *Store) ListPayments() []Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PaymentID < out[j].PaymentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Transition moves a payment to newStatus. It fails with a not_found
// error for an unknown id and an invalid_transition error (reporting the
// current status and the full allowed set) for an illegal move. On
// success it updates the status, stamps updated_at, appends one event
// recording actor and metadata, and emits one transaction log entry.
// Entering COMPLETED also stamps delivery_confirmed_at.
//
// This is the only operation that mutates a payment's status or events.
func (s *Store) Transition(paymentID string, newStatus PaymentStatus, actor string, metadata map[string]interface{}) error {
	s.mu.Lock()

	p, ok := s.payments[paymentID]
	if !ok {
		s.mu.Unlock()
		return NewNotFoundError("payment", paymentID)
	}

	current := p.Status
	if !current.CanTransitionTo(newStatus) {
		s.mu.Unlock()
		return NewInvalidTransitionError(paymentID, current, newStatus, current.AllowedNext())
	}

	now := s.now()
	var md map[string]interface{}
	if metadata != nil {
		md = make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	event := PaymentEvent{
		Status:    newStatus,
		Timestamp: now,
		Actor:     actor,
		Metadata:  md,
	}

	p.Status = newStatus
	p.UpdatedAt = now
	p.Events = append(p.Events, event)
	if newStatus == StatusCompleted {
		t := now
		p.DeliveryConfirmedAt = &t
	}

	s.appendLogLocked(LogEntry{
		AgentID: actor,
		Type:    LogMessage,
		Message: "Payment " + paymentID + " transitioned from " + string(current) + " to " + string(newStatus),
		Data: map[string]interface{}{
			"payment_id": paymentID,
			"from":       string(current),
			"to":         string(newStatus),
		},
	})

	snapshot := p.Clone()
	hooks := append([]TransitionHook(nil), s.transitionHooks...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(snapshot, event)
	}
	return nil
}

// CanRefund reports whether the payment is refundable: status is
// DELIVERY_PENDING and the refund window has not closed. Pure query.
func (s *Store) CanRefund(paymentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return false, NewNotFoundError("payment", paymentID)
	}
	return p.Status == StatusDeliveryPending && s.now().Before(p.RefundableUntil), nil
}

// ============================================================================
// Transaction log
// ============================================================================

// AddLog appends a log entry, assigning an id and timestamp when absent,
// and forwards a copy to any attached sinks. Sink failures are counted
// and otherwise ignored.
func (s *Store) AddLog(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLogLocked(entry)
}

func (s *Store) appendLogLocked(entry LogEntry) {
	if entry.ID == "" {
		entry.ID = GenerateLogID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.logs = append(s.logs, entry)

	for _, sink := range s.sinks {
		if err := sink.Append(entry); err != nil {
			s.sinkErrors++
		}
	}
}

// Logs returns log entries in insertion order, optionally filtered by
// agent id (empty string returns the full history)
func (s *Store) Logs(agentID string) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentID == "" {
		return append([]LogEntry(nil), s.logs...)
	}
	out := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.AgentID == agentID {
			out = append(out, entry)
		}
	}
	return out
}

// SinkErrors returns the number of log entries a sink failed to accept
func (s *Store) SinkErrors() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sinkErrors
}

// Reset clears the agent registry, all message queues, all payments, and
// the transaction log. Attached sinks, hooks, and the clock survive.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents = make(map[string]*AgentProfile)
	s.agentOrder = nil
	s.queues = make(map[string][]Message)
	s.payments = make(map[string]*Payment)
	s.logs = nil
}
