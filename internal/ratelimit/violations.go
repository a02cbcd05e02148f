package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/chatguard/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultViolationLogSize    = 1000
	DefaultEscalationThreshold = 10
	DefaultEscalationWindow    = 30 * 24 * time.Hour
)

type RecorderConfig struct {
	// Bounded length of the shared violation log
	LogSize int
	// Lifetime violations that move an identifier onto the blacklist
	EscalationThreshold int
	// Rolling window for the lifetime count, 0 keeps every violation
	EscalationWindow time.Duration
}

// Recorder logs violation transitions and escalates repeat offenders
type Recorder struct {
	store  Store
	sink   EventSink
	cfg    RecorderConfig
	logger *zap.Logger
}

func NewRecorder(store Store, cfg RecorderConfig, sink EventSink, logger *zap.Logger) *Recorder {
	if cfg.LogSize <= 0 {
		cfg.LogSize = DefaultViolationLogSize
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = DefaultEscalationThreshold
	}
	if cfg.EscalationWindow < 0 {
		cfg.EscalationWindow = DefaultEscalationWindow
	}
	if sink == nil {
		sink = NopSink()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{store: store, sink: sink, cfg: cfg, logger: logger}
}

// Record appends the violation and, once the identifier's lifetime count reaches
// the threshold, blacklists it. Reports whether this call escalated.
func (r *Recorder) Record(ctx context.Context, v Violation) (bool, error) {
	violations.WithLabelValues(string(v.LimitType)).Inc()

	count, err := r.store.RecordViolation(ctx, v, r.cfg.LogSize, r.cfg.EscalationWindow)
	if err != nil {
		return false, fmt.Errorf("failed to record violation: %w", err)
	}

	if count < int64(r.cfg.EscalationThreshold) {
		return false, nil
	}

	// An existing entry, manual or automatic, keeps its reason
	reason := fmt.Sprintf("auto-escalated after %d violations", count)
	added, err := r.store.EscalateBlacklist(ctx, v.Identifier, reason)
	if err != nil {
		return false, fmt.Errorf("failed to escalate %s: %w", v.Identifier, err)
	}
	if !added {
		return false, nil
	}

	escalations.Inc()
	r.logger.Warn("identifier auto-escalated to blacklist",
		zap.String("identifier", v.Identifier.String()),
		zap.String("limit_type", string(v.LimitType)),
		zap.Int64("violations", count),
	)
	r.sink.Publish(models.ReputationEvent{
		Identifier: v.Identifier.String(),
		Action:     models.ActionEscalated,
		Source:     models.SourceAuto,
		LimitType:  string(v.LimitType),
		Reason:     reason,
		CreatedAt:  v.Timestamp,
	})

	return true, nil
}
