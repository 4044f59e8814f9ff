package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ni-heemang/chat-flow/internal/bus"
	"github.com/ni-heemang/chat-flow/internal/cache"
	"github.com/ni-heemang/chat-flow/internal/chat"
)

// TopicStatsChanged is the bus topic announcing that a room's aggregates
// moved. The scheduler drives its push thresholds from it.
const TopicStatsChanged = "analysis.stats-changed"

// StatsChanged is the event published on TopicStatsChanged.
type StatsChanged struct {
	RoomID int64
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	PrimaryTimeout time.Duration
}

// DefaultPipelineConfig returns the production sizing.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:        4,
		QueueSize:      256,
		PrimaryTimeout: 10 * time.Second,
	}
}

// Pipeline runs per-message analysis on a worker pool. Each message moves
// through received → analyzing → analyzed or fallback-analyzed → persisted;
// the fallback analyzer guarantees an analyzed outcome for every accepted
// message. Durable write failures are logged and counted, never propagated:
// losing durability lag is acceptable, losing the live pipeline is not.
type Pipeline struct {
	logger   *slog.Logger
	primary  Analyzer
	fallback *HeuristicAnalyzer

	aggregator *Aggregator
	events     EventStore
	cache      cache.Cache
	bus        *bus.Bus
	metrics    *Metrics

	config PipelineConfig
	queue  chan *chat.Message
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPipeline wires the pipeline. Primary may be nil, in which case every
// message takes the fallback path.
func NewPipeline(
	logger *slog.Logger,
	primary Analyzer,
	aggregator *Aggregator,
	events EventStore,
	statCache cache.Cache,
	b *bus.Bus,
	metrics *Metrics,
	config PipelineConfig,
) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = DefaultPipelineConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultPipelineConfig().QueueSize
	}
	if config.PrimaryTimeout <= 0 {
		config.PrimaryTimeout = DefaultPipelineConfig().PrimaryTimeout
	}
	return &Pipeline{
		logger:     logger,
		primary:    primary,
		fallback:   NewHeuristicAnalyzer(),
		aggregator: aggregator,
		events:     events,
		cache:      statCache,
		bus:        b,
		metrics:    metrics,
		config:     config,
		queue:      make(chan *chat.Message, config.QueueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.config.Workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
		p.logger.Info("analysis pipeline started",
			"workers", p.config.Workers, "queue_size", p.config.QueueSize)
	})
}

// Stop closes the queue and waits for in-flight work to finish.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		p.logger.Info("analysis pipeline stopped")
	})
}

// Submit accepts a message for analysis. System messages are filtered here,
// before they ever enter the queue. Submission never blocks message
// delivery: when the queue is full the message is analyzed inline with the
// fallback analyzer instead of waiting for a worker.
func (p *Pipeline) Submit(ctx context.Context, msg *chat.Message) {
	if msg.Type != chat.MessageTypeText {
		return
	}

	select {
	case p.queue <- msg:
		p.metrics.SetQueueDepth(len(p.queue))
	default:
		p.logger.Warn("analysis queue full, analyzing inline", "room_id", msg.RoomID)
		p.analyze(ctx, msg)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for msg := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.analyze(ctx, msg)
	}
}

func (p *Pipeline) analyze(ctx context.Context, msg *chat.Message) {
	started := time.Now()
	result, fellBack := p.runAnalyzers(ctx, msg)
	outcome := OutcomePrimary
	if fellBack {
		outcome = OutcomeFallback
	}
	p.metrics.RecordAnalyzed(outcome, time.Since(started).Seconds())

	p.complete(ctx, msg, result, fellBack)
}

// runAnalyzers tries the primary analyzer under its timeout and falls back
// on any error. The fallback never fails.
func (p *Pipeline) runAnalyzers(ctx context.Context, msg *chat.Message) (*Result, bool) {
	if p.primary != nil {
		analyzeCtx, cancel := context.WithTimeout(ctx, p.config.PrimaryTimeout)
		result, err := p.primary.Analyze(analyzeCtx, msg.Content)
		cancel()
		if err == nil {
			return result, false
		}
		p.logger.Warn("primary analyzer failed, using fallback",
			"room_id", msg.RoomID, "message_id", msg.ID, "error", err)
	}

	result, _ := p.fallback.Analyze(ctx, msg.Content)
	return result, true
}

func (p *Pipeline) complete(ctx context.Context, msg *chat.Message, result *Result, fellBack bool) {
	p.aggregator.Record(msg.RoomID, msg.DisplayName(), result, msg.Timestamp)

	if err := p.events.Append(ctx, &Event{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		Keywords:  result.Keywords,
		Topic:     result.Topic,
		Emotion:   result.Emotion,
		Fallback:  fellBack,
		Timestamp: msg.Timestamp,
	}); err != nil {
		// Durability lags but live aggregation continues.
		p.metrics.RecordPersistenceFailure()
		p.logger.Error("failed to append analysis event",
			"room_id", msg.RoomID, "message_id", msg.ID, "error", err)
	}

	if err := p.cache.Invalidate(ctx, cache.RoomKeys(msg.RoomID)...); err != nil {
		p.logger.Warn("failed to invalidate stat cache", "room_id", msg.RoomID, "error", err)
	}

	p.bus.Publish(TopicStatsChanged, StatsChanged{RoomID: msg.RoomID})
}
