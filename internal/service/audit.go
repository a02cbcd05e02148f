package service

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/chatguard/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var auditDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "chatguard",
	Subsystem: "audit",
	Name:      "dropped_events_total",
	Help:      "Reputation events dropped because the audit queue was full",
})

type EventStore interface {
	CreateBatch(ctx context.Context, events []models.ReputationEvent) error
	List(ctx context.Context, identifier string, limit int) ([]models.ReputationEvent, error)
}

type AuditConfig struct {
	BufferSize    int           // Default: 1000
	BatchSize     int           // Default: 100
	FlushInterval time.Duration // Default: 5s
}

// AuditLog queues reputation events and batch-inserts them in the background.
// Publish never blocks: when the queue is full the event is dropped.
type AuditLog struct {
	store  EventStore
	logger *zap.Logger
	events chan models.ReputationEvent

	batchSize     int
	flushInterval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewAuditLog(store EventStore, cfg AuditConfig, logger *zap.Logger) *AuditLog {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditLog{
		store:         store,
		logger:        logger,
		events:        make(chan models.ReputationEvent, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Starts the background writer
func (a *AuditLog) Start() {
	go a.run()
}

func (a *AuditLog) run() {
	defer close(a.done)

	batch := make([]models.ReputationEvent, 0, a.batchSize)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.insert(batch)
		batch = make([]models.ReputationEvent, 0, a.batchSize)
	}

	for {
		select {
		case ev := <-a.events:
			batch = append(batch, ev)
			if len(batch) >= a.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stop:
			// Drain whatever is still queued
			for {
				select {
				case ev := <-a.events:
					batch = append(batch, ev)
					if len(batch) >= a.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *AuditLog) insert(batch []models.ReputationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.store.CreateBatch(ctx, batch); err != nil {
		a.logger.Error("failed to insert reputation events",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}

func (a *AuditLog) Publish(event models.ReputationEvent) {
	select {
	case a.events <- event:
	default:
		auditDropped.Inc()
		a.logger.Warn("audit queue full, dropping reputation event",
			zap.String("action", event.Action),
			zap.String("identifier", event.Identifier),
		)
	}
}

func (a *AuditLog) List(ctx context.Context, identifier string, limit int) ([]models.ReputationEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return a.store.List(ctx, identifier, limit)
}

// Close flushes queued events and waits for the writer, bounded by ctx
func (a *AuditLog) Close(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stop) })

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
