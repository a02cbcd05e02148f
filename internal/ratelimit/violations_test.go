package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/chatguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.ReputationEvent
}

func (s *recordingSink) Publish(ev models.ReputationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []models.ReputationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ReputationEvent(nil), s.events...)
}

func TestRecorder_EscalatesAtThreshold(t *testing.T) {
	store := NewMemoryStore()
	sink := &recordingSink{}
	r := NewRecorder(store, RecorderConfig{EscalationThreshold: 3, EscalationWindow: time.Hour}, sink, nil)
	ctx := context.Background()
	id := Identifier("user:abuser")
	now := time.Now()

	for i := 0; i < 2; i++ {
		escalated, err := r.Record(ctx, Violation{Identifier: id, LimitType: MessageSend, Timestamp: now})
		require.NoError(t, err)
		assert.False(t, escalated)
	}

	escalated, err := r.Record(ctx, Violation{Identifier: id, LimitType: FileUpload, Timestamp: now})
	require.NoError(t, err)
	assert.True(t, escalated)

	// Further violations do not re-escalate
	escalated, err = r.Record(ctx, Violation{Identifier: id, LimitType: FileUpload, Timestamp: now})
	require.NoError(t, err)
	assert.False(t, escalated)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.ActionEscalated, events[0].Action)
	assert.Equal(t, models.SourceAuto, events[0].Source)
	assert.Equal(t, "auto-escalated after 3 violations", events[0].Reason)
	assert.Equal(t, string(FileUpload), events[0].LimitType)
}

func TestRecorder_RollingWindowForgetsOldViolations(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, RecorderConfig{EscalationThreshold: 3, EscalationWindow: 24 * time.Hour}, nil, nil)
	ctx := context.Background()
	id := Identifier("ip:192.0.2.1")
	t0 := time.Now()

	for i := 0; i < 2; i++ {
		_, err := r.Record(ctx, Violation{Identifier: id, LimitType: AuthLogin, Timestamp: t0})
		require.NoError(t, err)
	}

	escalated, err := r.Record(ctx, Violation{Identifier: id, LimitType: AuthLogin, Timestamp: t0.Add(25 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, escalated)

	_, black, err := store.Standing(ctx, id)
	require.NoError(t, err)
	assert.False(t, black)
}

// operatorRaceStore lets an operator blacklist the identifier between the
// violation write and the escalation write
type operatorRaceStore struct {
	*MemoryStore
	reason string
}

func (s *operatorRaceStore) RecordViolation(ctx context.Context, v Violation, logSize int, window time.Duration) (int64, error) {
	n, err := s.MemoryStore.RecordViolation(ctx, v, logSize, window)
	if err != nil {
		return n, err
	}
	if _, err := s.AddBlacklist(ctx, v.Identifier, s.reason); err != nil {
		return n, err
	}
	return n, nil
}

func TestRecorder_EscalationKeepsOperatorReason(t *testing.T) {
	store := &operatorRaceStore{MemoryStore: NewMemoryStore(), reason: "fraud ticket 881"}
	sink := &recordingSink{}
	r := NewRecorder(store, RecorderConfig{EscalationThreshold: 1, EscalationWindow: time.Hour}, sink, nil)
	ctx := context.Background()
	id := Identifier("user:mallory")

	escalated, err := r.Record(ctx, Violation{Identifier: id, LimitType: AuthLogin, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.False(t, escalated)

	reasons, err := store.Blacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fraud ticket 881", reasons[id])
	assert.Empty(t, sink.Events())
}
