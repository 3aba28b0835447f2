package agentpay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skymint/agentpay/dedup"
)

const (
	// DefaultPollInterval is the router's queue drain cadence
	DefaultPollInterval = 300 * time.Millisecond

	// DefaultUnitPrice is the seller's per-token price
	DefaultUnitPrice = 0.01

	// DefaultWalletLimit is the spending limit for provisioned wallets
	DefaultWalletLimit = 10.0

	// DefaultDeliveryDelay simulates fulfillment work before completion
	DefaultDeliveryDelay = 500 * time.Millisecond
)

// Manager owns the two agent instances and drives message delivery on a
// timer. Each poll tick drains every agent's queue in one atomic step and
// dispatches the drained messages sequentially in enqueue order, so a
// reply produced while a batch is being dispatched only becomes visible
// on the next tick.
type Manager struct {
	mu sync.Mutex

	store     *Store
	provider  PaymentProvider
	validator PayloadValidator

	buyer  *BuyerAgent
	seller *SellerAgent
	agents []Agent

	cancel     context.CancelFunc
	generation atomic.Uint64

	pollInterval   time.Duration
	buyerName      string
	sellerName     string
	serviceType    string
	unitPrice      float64
	walletLimit    float64
	deliveryDelay  time.Duration
	refundWindow   time.Duration
	deduperFactory func() dedup.Deduper
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithPollInterval sets the queue drain cadence
func WithPollInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.pollInterval = interval
	}
}

// WithValidator installs a payload validator consulted before dispatch.
// Messages failing validation are logged and dropped, not delivered.
func WithValidator(v PayloadValidator) ManagerOption {
	return func(m *Manager) {
		m.validator = v
	}
}

// WithDeduperFactory sets the deduplication backend constructor used for
// each agent. Defaults to the in-memory backend.
func WithDeduperFactory(factory func() dedup.Deduper) ManagerOption {
	return func(m *Manager) {
		m.deduperFactory = factory
	}
}

// WithBuyerAgentName sets the buyer's display name
func WithBuyerAgentName(name string) ManagerOption {
	return func(m *Manager) {
		m.buyerName = name
	}
}

// WithSellerAgentName sets the seller's display name
func WithSellerAgentName(name string) ManagerOption {
	return func(m *Manager) {
		m.sellerName = name
	}
}

// WithServiceType sets the service the pair trades
func WithServiceType(serviceType string) ManagerOption {
	return func(m *Manager) {
		m.serviceType = serviceType
	}
}

// WithUnitPrice sets the seller's fixed per-unit price
func WithUnitPrice(price float64) ManagerOption {
	return func(m *Manager) {
		m.unitPrice = price
	}
}

// WithWalletLimit sets the spending limit for provisioned session wallets
func WithWalletLimit(limit float64) ManagerOption {
	return func(m *Manager) {
		m.walletLimit = limit
	}
}

// WithDeliveryDelay sets the seller's simulated fulfillment delay
func WithDeliveryDelay(delay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.deliveryDelay = delay
	}
}

// WithRefundWindow sets the refund window applied to new payments
func WithRefundWindow(window time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refundWindow = window
	}
}

// NewManager creates a manager over the given store and payment provider
func NewManager(store *Store, provider PaymentProvider, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		provider:      provider,
		pollInterval:  DefaultPollInterval,
		buyerName:     "buyer-agent",
		sellerName:    "seller-agent",
		serviceType:   ServiceTokens,
		unitPrice:     DefaultUnitPrice,
		walletLimit:   DefaultWalletLimit,
		deliveryDelay: DefaultDeliveryDelay,
		refundWindow:  DefaultRefundWindow,
		deduperFactory: func() dedup.Deduper {
			return dedup.NewMemory()
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Store returns the store the manager mutates. Read surfaces (HTTP, MCP)
// use it for payments, agents, and logs.
func (m *Manager) Store() *Store {
	return m.store
}

// InitializeAgents provisions a session wallet for each side, constructs
// and registers the buyer and seller, and starts the polling loop. A
// provider failure propagates with no partial-initialization recovery;
// the caller retries InitializeAgents from scratch.
func (m *Manager) InitializeAgents(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buyer != nil || m.seller != nil {
		return NewValidationError("agents already initialized", nil)
	}

	gen := m.generation.Load()
	alive := func() bool {
		return m.generation.Load() == gen
	}

	buyerID := generateID("buyer_")
	sellerID := generateID("seller_")

	buyerWallet, err := m.provider.CreateWallet(ctx, buyerID, m.walletLimit)
	if err != nil {
		return NewProviderCallError("createWallet", err)
	}
	sellerWallet, err := m.provider.CreateWallet(ctx, sellerID, m.walletLimit)
	if err != nil {
		return NewProviderCallError("createWallet", err)
	}

	buyerProfile := AgentProfile{
		AgentID:      buyerID,
		AgentName:    m.buyerName,
		Services:     []string{},
		FixedPricing: map[string]float64{},
		SessionWallet: WalletRef{
			WalletID: buyerWallet.WalletID,
			Address:  buyerWallet.WalletAddress,
			Network:  buyerWallet.Network,
		},
	}
	sellerProfile := AgentProfile{
		AgentID:      sellerID,
		AgentName:    m.sellerName,
		Services:     []string{m.serviceType},
		FixedPricing: map[string]float64{m.serviceType: m.unitPrice},
		SessionWallet: WalletRef{
			WalletID: sellerWallet.WalletID,
			Address:  sellerWallet.WalletAddress,
			Network:  sellerWallet.Network,
		},
	}

	m.buyer = NewBuyerAgent(m.store, m.provider, buyerProfile,
		WithBuyerDeduper(m.deduperFactory()),
		WithBuyerSigner(m.signerFor(buyerWallet.WalletID)),
		WithBuyerServiceType(m.serviceType),
		WithBuyerRefundWindow(m.refundWindow),
		WithBuyerResetGuard(alive),
	)
	m.seller = NewSellerAgent(m.store, m.provider, sellerProfile,
		WithSellerDeduper(m.deduperFactory()),
		WithSellerSigner(m.signerFor(sellerWallet.WalletID)),
		WithSellerDeliveryDelay(m.deliveryDelay),
		WithSellerResetGuard(alive),
	)

	if err := m.buyer.Initialize(ctx); err != nil {
		m.buyer, m.seller = nil, nil
		return err
	}
	if err := m.seller.Initialize(ctx); err != nil {
		m.buyer, m.seller = nil, nil
		return err
	}

	m.agents = []Agent{m.buyer, m.seller}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.pollLoop(loopCtx, m.agents)

	return nil
}

// signerFor resolves the message signer for a wallet when the provider
// exposes signing (an optional capability; remote providers usually
// don't, and messages then travel unsigned).
func (m *Manager) signerFor(walletID string) MessageSigner {
	sp, ok := m.provider.(SignerProvider)
	if !ok {
		return nil
	}
	signer, ok := sp.MessageSigner(walletID)
	if !ok {
		return nil
	}
	return signer
}

// TriggerPurchase delegates to the buyer's purchase initiation. It fails
// with a not_initialized error before InitializeAgents has succeeded.
func (m *Manager) TriggerPurchase(ctx context.Context, quantity int) error {
	m.mu.Lock()
	buyer := m.buyer
	m.mu.Unlock()

	if buyer == nil {
		return NewNotInitializedError("triggerPurchase")
	}
	return buyer.PurchaseTokens(ctx, quantity)
}

// Reset stops the polling loop, discards the agent references, and clears
// the store. It is idempotent: resetting an uninitialized manager is a
// no-op. In-flight agent operations are not awaited; the bumped
// generation makes their late writes no-ops instead.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation.Add(1)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.buyer = nil
	m.seller = nil
	m.agents = nil
	m.store.Reset()
	return nil
}

// IsInitialized reports whether both agents exist
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.buyer != nil && m.seller != nil
}

// Tick drains and dispatches every agent's queue once, in registration
// order. The polling loop calls it on each tick; tests call it directly
// for deterministic delivery rounds.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	agents := m.agents
	m.mu.Unlock()

	m.deliver(ctx, agents)
}

func (m *Manager) pollLoop(ctx context.Context, agents []Agent) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.deliver(ctx, agents)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, agents []Agent) {
	// Drain every queue before dispatching anything, so a reply enqueued
	// while a batch is being handled is deferred to the next tick even
	// when its recipient comes later in the agent order.
	batches := make([][]Message, len(agents))
	for i, agent := range agents {
		batches[i] = m.store.DrainMessages(agent.ID())
	}

	for i, agent := range agents {
		for _, msg := range batches[i] {
			if m.validator != nil {
				if err := m.validator.Validate(msg.Type, msg.Payload); err != nil {
					m.store.AddLog(LogEntry{
						AgentID: agent.ID(),
						Type:    LogMessage,
						Message: fmt.Sprintf("Dropping invalid %s message %s: %v", msg.Type, msg.MessageID, err),
						Data: map[string]interface{}{
							"message_id": msg.MessageID,
						},
					})
					continue
				}
			}
			// Handler failures are logged by the agent; the batch keeps draining.
			_ = agent.HandleMessage(ctx, msg)
		}
	}
}
