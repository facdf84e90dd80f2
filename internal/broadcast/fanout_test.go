package broadcast

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/logger"
)

// ==========================
// Fake Transports
// ==========================

type recordingTransport struct {
	received atomic.Int64
	failWith error
	blockFor time.Duration
}

func (tr *recordingTransport) Send(ctx context.Context, payload []byte) error {
	if tr.blockFor > 0 {
		select {
		case <-time.After(tr.blockFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if tr.failWith != nil {
		return tr.failWith
	}
	tr.received.Add(1)
	return nil
}

func (tr *recordingTransport) Close() error { return nil }

// ==========================
// Test Helpers
// ==========================

func newTestFanout(t *testing.T) (*Fanout, *Registry) {
	t.Helper()
	registry := NewRegistry(logger.NewTestLogger(t))
	fanout := NewFanout(registry, 100*time.Millisecond, 16, logger.NewTestLogger(t))
	return fanout, registry
}

func intelligenceEnvelope(tenantID, leadID string) *Envelope {
	return &Envelope{
		Topic:     TopicIntelligence,
		TenantID:  tenantID,
		LeadID:    leadID,
		EventID:   "evt-1",
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"overallHealthScore": 0.8},
	}
}

// ==========================
// Registry Tests
// ==========================

func TestRegistry_SubscribeValidation(t *testing.T) {
	_, registry := newTestFanout(t)

	tests := []struct {
		name      string
		tenantID  string
		topics    []string
		transport Transport
	}{
		{name: "missing tenant", tenantID: "", topics: []string{TopicIntelligence}, transport: &recordingTransport{}},
		{name: "missing topics", tenantID: "t1", topics: nil, transport: &recordingTransport{}},
		{name: "missing transport", tenantID: "t1", topics: []string{TopicIntelligence}, transport: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Subscribe(tt.tenantID, tt.topics, nil, tt.transport)
			require.Error(t, err)
			assert.True(t, commonerrors.HasCode(err, commonerrors.ErrCodeSubscriptionInvalid))
		})
	}
}

func TestRegistry_UnsubscribeClosesTransport(t *testing.T) {
	_, registry := newTestFanout(t)

	tr := NewChannelTransport("sub", 1)
	id, err := registry.Subscribe("t1", []string{TopicIntelligence}, nil, tr)
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Count("t1"))

	registry.Unsubscribe("t1", id)
	assert.Equal(t, 0, registry.Count("t1"))

	err = tr.Send(context.Background(), []byte("x"))
	assert.True(t, commonerrors.HasCode(err, commonerrors.ErrCodeConnectionClosed))
}

func TestRegistry_MatchScopesByTenantAndTopic(t *testing.T) {
	_, registry := newTestFanout(t)

	_, err := registry.Subscribe("t1", []string{TopicIntelligence}, nil, &recordingTransport{})
	require.NoError(t, err)
	_, err = registry.Subscribe("t1", []string{TopicMetrics}, nil, &recordingTransport{})
	require.NoError(t, err)
	_, err = registry.Subscribe("t2", []string{TopicIntelligence}, nil, &recordingTransport{})
	require.NoError(t, err)

	assert.Len(t, registry.Match("t1", TopicIntelligence, "l1"), 1)
	assert.Len(t, registry.Match("t1", TopicMetrics, ""), 1)
	assert.Len(t, registry.Match("t2", TopicIntelligence, "l1"), 1)
	assert.Empty(t, registry.Match("t3", TopicIntelligence, "l1"))
}

// ==========================
// Lead Filter Tests
// ==========================

func TestFanout_LeadFilterIsolation(t *testing.T) {
	fanout, registry := newTestFanout(t)

	watching := &recordingTransport{}
	other := &recordingTransport{}
	unfiltered := &recordingTransport{}

	_, err := registry.Subscribe("t1", []string{TopicIntelligence}, []string{"lead-1"}, watching)
	require.NoError(t, err)
	_, err = registry.Subscribe("t1", []string{TopicIntelligence}, []string{"lead-2"}, other)
	require.NoError(t, err)
	_, err = registry.Subscribe("t1", []string{TopicIntelligence}, nil, unfiltered)
	require.NoError(t, err)

	result, err := fanout.Broadcast(context.Background(), intelligenceEnvelope("t1", "lead-1"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Targeted)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(1), watching.received.Load())
	assert.Equal(t, int64(0), other.received.Load())
	assert.Equal(t, int64(1), unfiltered.received.Load())
}

// ==========================
// Partial Failure Tests
// ==========================

func TestFanout_PartialFailureCounts(t *testing.T) {
	fanout, registry := newTestFanout(t)

	for i := 0; i < 7; i++ {
		_, err := registry.Subscribe("t1", []string{TopicIntelligence}, nil, &recordingTransport{})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := registry.Subscribe("t1", []string{TopicIntelligence}, nil, &recordingTransport{
			failWith: assert.AnError,
		})
		require.NoError(t, err)
	}

	result, err := fanout.Broadcast(context.Background(), intelligenceEnvelope("t1", "lead-1"))
	require.NoError(t, err)

	assert.Equal(t, 10, result.Targeted)
	assert.Equal(t, 7, result.Successful)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, result.Targeted, result.Successful+result.Failed)

	// A generic delivery failure does not evict the subscription.
	assert.Equal(t, 10, registry.Count("t1"))
}

func TestFanout_ClosedConnectionsPruned(t *testing.T) {
	fanout, registry := newTestFanout(t)

	live := NewChannelTransport("live", 4)
	dead := NewChannelTransport("dead", 4)
	_, err := registry.Subscribe("t1", []string{TopicIntelligence}, nil, live)
	require.NoError(t, err)
	_, err = registry.Subscribe("t1", []string{TopicIntelligence}, nil, dead)
	require.NoError(t, err)

	require.NoError(t, dead.Close())

	result, err := fanout.Broadcast(context.Background(), intelligenceEnvelope("t1", "lead-1"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Targeted)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, registry.Count("t1"))
}

func TestFanout_SlowConnectionTimesOutWithoutBlockingOthers(t *testing.T) {
	fanout, registry := newTestFanout(t)

	fast := &recordingTransport{}
	slow := &recordingTransport{blockFor: 5 * time.Second}
	_, err := registry.Subscribe("t1", []string{TopicIntelligence}, nil, fast)
	require.NoError(t, err)
	_, err = registry.Subscribe("t1", []string{TopicIntelligence}, nil, slow)
	require.NoError(t, err)

	start := time.Now()
	result, err := fanout.Broadcast(context.Background(), intelligenceEnvelope("t1", "lead-1"))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Less(t, elapsed, time.Second, "send timeout should bound the broadcast")
}

// ==========================
// Envelope Delivery Tests
// ==========================

func TestFanout_DeliversSerializedEnvelope(t *testing.T) {
	fanout, registry := newTestFanout(t)

	tr := NewChannelTransport("sub", 4)
	_, err := registry.Subscribe("t1", []string{TopicIntelligence}, nil, tr)
	require.NoError(t, err)

	_, err = fanout.Broadcast(context.Background(), intelligenceEnvelope("t1", "lead-1"))
	require.NoError(t, err)

	select {
	case raw := <-tr.Receive():
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, TopicIntelligence, env.Topic)
		assert.Equal(t, "t1", env.TenantID)
		assert.Equal(t, "lead-1", env.LeadID)
	case <-time.After(time.Second):
		t.Fatal("no payload delivered")
	}
}

func TestFanout_NoSubscribersIsNotAnError(t *testing.T) {
	fanout, _ := newTestFanout(t)

	result, err := fanout.Broadcast(context.Background(), intelligenceEnvelope("t1", "lead-1"))
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}
