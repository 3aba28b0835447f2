package agentpay

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []PaymentStatus{
	StatusInitiated,
	StatusQuoteReceived,
	StatusPaymentSent,
	StatusDeliveryPending,
	StatusDisputed,
	StatusCompleted,
	StatusRefunded,
}

func testPayment(id string, status PaymentStatus) Payment {
	return Payment{
		PaymentID:     id,
		Status:        status,
		BuyerAgentID:  "buyer_1",
		SellerAgentID: "seller_1",
		Amount:        0.05,
		ServiceType:   ServiceTokens,
	}
}

func TestStorePayment_SeedsInitialEvent(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	require.Len(t, p.Events, 1)
	assert.Equal(t, StatusInitiated, p.Events[0].Status)
	assert.Equal(t, "buyer_1", p.Events[0].Actor)
	assert.Equal(t, p.Status, p.Events[0].Status)
	assert.Equal(t, DefaultCurrency, p.Currency)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestStorePayment_Validation(t *testing.T) {
	store := NewStore()

	err := store.StorePayment(testPayment("", StatusInitiated))
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	err = store.StorePayment(testPayment("pay_1", PaymentStatus("BOGUS")))
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	bad := testPayment("pay_1", StatusInitiated)
	bad.Amount = 0
	err = store.StorePayment(bad)
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
}

func TestStorePayment_LastWriteWins(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))
	require.NoError(t, store.Transition("pay_1", StatusQuoteReceived, "seller_1", nil))

	// Re-storing the same id replaces the record, history included.
	replacement := testPayment("pay_1", StatusPaymentSent)
	replacement.Amount = 1.25
	require.NoError(t, store.StorePayment(replacement))

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentSent, p.Status)
	assert.Equal(t, 1.25, p.Amount)
	require.Len(t, p.Events, 1)
	assert.Equal(t, StatusPaymentSent, p.Events[0].Status)
}

func TestTransition_FullRoundTrip(t *testing.T) {
	cur := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return cur }))

	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))

	steps := []struct {
		to    PaymentStatus
		actor string
	}{
		{StatusQuoteReceived, "seller_1"},
		{StatusPaymentSent, "buyer_1"},
		{StatusDeliveryPending, "buyer_1"},
		{StatusCompleted, "seller_1"},
	}

	var lastUpdated time.Time
	for _, step := range steps {
		cur = cur.Add(time.Second)
		require.NoError(t, store.Transition("pay_1", step.to, step.actor, nil))

		p, err := store.GetPayment("pay_1")
		require.NoError(t, err)
		assert.Equal(t, step.to, p.Status)
		assert.Equal(t, step.to, p.LastEvent().Status)
		assert.Equal(t, step.actor, p.LastEvent().Actor)
		assert.False(t, p.UpdatedAt.Before(lastUpdated), "updated_at must be non-decreasing")
		lastUpdated = p.UpdatedAt
	}

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	require.Len(t, p.Events, 5)
	want := []PaymentStatus{StatusInitiated, StatusQuoteReceived, StatusPaymentSent, StatusDeliveryPending, StatusCompleted}
	for i, status := range want {
		assert.Equal(t, status, p.Events[i].Status)
	}
	require.NotNil(t, p.DeliveryConfirmedAt)
}

func TestTransition_IllegalPairsRejectedWithoutMutation(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if from.CanTransitionTo(to) {
				continue
			}
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				store := NewStore()
				require.NoError(t, store.StorePayment(testPayment("pay_1", from)))
				before, err := store.GetPayment("pay_1")
				require.NoError(t, err)

				err = store.Transition("pay_1", to, "actor", nil)
				require.Error(t, err)
				assert.True(t, IsInvalidTransition(err))

				after, err := store.GetPayment("pay_1")
				require.NoError(t, err)
				assert.Equal(t, before.Status, after.Status)
				assert.Equal(t, len(before.Events), len(after.Events))
				assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt))
			})
		}
	}
}

func TestTransition_ErrorReportsAllowedSet(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))

	err := store.Transition("pay_1", StatusCompleted, "actor", nil)
	require.Error(t, err)

	var apErr *AgentPayError
	require.True(t, errors.As(err, &apErr))
	assert.Equal(t, ErrCodeInvalidTransition, apErr.Code)
	assert.Equal(t, "INITIATED", apErr.Details["current_status"])
	assert.Equal(t, "COMPLETED", apErr.Details["requested_status"])
	assert.Equal(t, []string{"QUOTE_RECEIVED"}, apErr.Details["allowed"])
}

func TestTransition_UnknownPayment(t *testing.T) {
	store := NewStore()
	err := store.Transition("pay_missing", StatusCompleted, "actor", nil)
	assert.True(t, IsNotFound(err))
}

func TestTransition_AppendsMetadataAndLogs(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))
	require.NoError(t, store.Transition("pay_1", StatusQuoteReceived, "seller_1", map[string]interface{}{
		"quote_price": 0.05,
	}))

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	assert.Equal(t, 0.05, p.LastEvent().Metadata["quote_price"])

	logs := store.Logs("")
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	assert.Equal(t, LogMessage, last.Type)
	assert.Contains(t, last.Message, "INITIATED")
	assert.Contains(t, last.Message, "QUOTE_RECEIVED")
}

func TestTransitionHook_ObservesSnapshot(t *testing.T) {
	var got []PaymentEvent
	store := NewStore(WithTransitionHook(func(p Payment, ev PaymentEvent) {
		got = append(got, ev)
	}))

	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))
	require.NoError(t, store.Transition("pay_1", StatusQuoteReceived, "seller_1", nil))

	require.Len(t, got, 1)
	assert.Equal(t, StatusQuoteReceived, got[0].Status)
}

func TestCanRefund(t *testing.T) {
	cur := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return cur }))

	p := testPayment("pay_1", StatusDeliveryPending)
	p.RefundableUntil = cur.Add(24 * time.Hour)
	require.NoError(t, store.StorePayment(p))

	ok, err := store.CanRefund("pay_1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Window closed
	cur = cur.Add(25 * time.Hour)
	ok, err = store.CanRefund("pay_1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Terminal status is never refundable, regardless of the clock
	cur = cur.Add(-25 * time.Hour)
	require.NoError(t, store.Transition("pay_1", StatusCompleted, "seller_1", nil))
	ok, err = store.CanRefund("pay_1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.CanRefund("pay_missing")
	assert.True(t, IsNotFound(err))
}

func TestAgentRegistry(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.RegisterAgent(sellerProfile("seller_1", 0.01)))
	require.NoError(t, store.RegisterAgent(buyerProfile("buyer_1")))

	err := store.RegisterAgent(AgentProfile{})
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	agents := store.ListAgents()
	require.Len(t, agents, 2)
	assert.Equal(t, "seller_1", agents[0].AgentID, "registration order is preserved")
	assert.Equal(t, "buyer_1", agents[1].AgentID)

	_, err = store.GetAgent("seller_9")
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.SetAgentOnline("seller_1", false))
	p, err := store.GetAgent("seller_1")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)

	assert.True(t, IsNotFound(store.SetAgentOnline("seller_9", true)))
}

func TestMessageQueues_DrainSemantics(t *testing.T) {
	store := NewStore()

	msg1, err := NewMessage(MessageServiceRequest, "buyer_1", "seller_1", ServiceRequestPayload{ServiceType: ServiceTokens, Quantity: 5})
	require.NoError(t, err)
	msg2, err := NewMessage(MessageServiceRequest, "buyer_1", "seller_1", ServiceRequestPayload{ServiceType: ServiceTokens, Quantity: 3})
	require.NoError(t, err)

	require.NoError(t, store.StoreMessage(msg1))
	require.NoError(t, store.StoreMessage(msg2))

	// GetMessages does not remove
	assert.Len(t, store.GetMessages("seller_1"), 2)
	assert.Len(t, store.GetMessages("seller_1"), 2)

	// Drain empties in one step and preserves enqueue order
	drained := store.DrainMessages("seller_1")
	require.Len(t, drained, 2)
	assert.Equal(t, msg1.MessageID, drained[0].MessageID)
	assert.Equal(t, msg2.MessageID, drained[1].MessageID)
	assert.Empty(t, store.GetMessages("seller_1"))

	// Messages enqueued after a drain wait for the next one
	require.NoError(t, store.StoreMessage(msg1))
	assert.Len(t, store.DrainMessages("seller_1"), 1)

	require.NoError(t, store.StoreMessage(msg2))
	store.ClearMessages("seller_1")
	assert.Empty(t, store.GetMessages("seller_1"))
}

func TestStoreMessage_Validation(t *testing.T) {
	store := NewStore()

	err := store.StoreMessage(Message{ToAgentID: "seller_1", Type: MessageQuote})
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	err = store.StoreMessage(Message{MessageID: "msg_1", Type: MessageQuote})
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	err = store.StoreMessage(Message{MessageID: "msg_1", ToAgentID: "seller_1", Type: MessageType("bogus")})
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))
}

type failingSink struct{}

func (failingSink) Append(LogEntry) error { return errors.New("sink down") }

func TestLogs_FilterSinkAndReset(t *testing.T) {
	store := NewStore(WithLogSink(failingSink{}))

	store.AddLog(LogEntry{AgentID: "buyer_1", Type: LogSent, Message: "one"})
	store.AddLog(LogEntry{AgentID: "seller_1", Type: LogReceived, Message: "two"})
	store.AddLog(LogEntry{AgentID: "buyer_1", Type: LogMessage, Message: "three"})

	all := store.Logs("")
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Message)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].Timestamp.IsZero())

	buyerLogs := store.Logs("buyer_1")
	require.Len(t, buyerLogs, 2)
	assert.Equal(t, "three", buyerLogs[1].Message)

	// Sink failures are counted, never surfaced
	assert.Equal(t, uint64(3), store.SinkErrors())

	require.NoError(t, store.RegisterAgent(buyerProfile("buyer_1")))
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))
	store.Reset()

	assert.Empty(t, store.Logs(""))
	assert.Empty(t, store.ListAgents())
	assert.Empty(t, store.ListPayments())
}

func TestListPayments_CreationOrder(t *testing.T) {
	cur := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return cur }))

	require.NoError(t, store.StorePayment(testPayment("pay_b", StatusInitiated)))
	cur = cur.Add(time.Second)
	require.NoError(t, store.StorePayment(testPayment("pay_a", StatusInitiated)))

	payments := store.ListPayments()
	require.Len(t, payments, 2)
	assert.Equal(t, "pay_b", payments[0].PaymentID)
	assert.Equal(t, "pay_a", payments[1].PaymentID)
}

func TestGetPayment_ReturnsDeepCopy(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.StorePayment(testPayment("pay_1", StatusInitiated)))

	p, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	p.Events[0].Status = StatusRefunded
	p.Status = StatusRefunded

	fresh, err := store.GetPayment("pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, fresh.Status)
	assert.Equal(t, StatusInitiated, fresh.Events[0].Status)
}
