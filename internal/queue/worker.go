package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pkgindex/registry/internal/ingest"
	"github.com/pkgindex/registry/internal/registry"
)

// Handler processes one message
type Handler func(ctx context.Context, msg *Message) error

// DispatchHandler routes a message through the ingestion dispatcher
func DispatchHandler(d *ingest.Dispatcher) Handler {
	return func(ctx context.Context, msg *Message) error {
		_, err := d.DispatchRaw(ctx, msg.Type, msg.Payload)
		return err
	}
}

// outcome is what happens to a message after its handler returns
type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDead
)

func (o outcome) String() string {
	switch o {
	case outcomeRetry:
		return "retry"
	case outcomeDead:
		return "dead"
	default:
		return "ack"
	}
}

// decide maps a handler error to an outcome. A conflict means an earlier
// delivery of the same request already succeeded.
func decide(err error, msg *Message, maxAttempts int) outcome {
	if err == nil {
		return outcomeAck
	}
	switch registry.KindOf(err) {
	case registry.KindConflict:
		return outcomeAck
	case registry.KindValidation, registry.KindNotFound:
		return outcomeDead
	}
	if msg.Attempts+1 >= maxAttempts {
		return outcomeDead
	}
	return outcomeRetry
}

// WorkerPool runs a fixed number of workers against one queue
type WorkerPool struct {
	queue      *RedisQueue
	handlers   *HandlerRegistry
	numWorkers int
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
	metrics    *Metrics
}

// NewWorkerPool creates a worker pool. numWorkers <= 0 uses the queue's
// configured worker count.
func NewWorkerPool(queue *RedisQueue, numWorkers int, logger *zap.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = queue.cfg.Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		queue:      queue,
		handlers:   NewHandlerRegistry(),
		numWorkers: numWorkers,
		logger:     logger.Named("queue"),
		stopChan:   make(chan struct{}),
		metrics:    NewMetrics(),
	}
}

// RegisterHandler registers a handler for a message type
func (p *WorkerPool) RegisterHandler(typ string, handler Handler) {
	p.handlers.Register(typ, handler)
}

// RegisterDispatcher registers the dispatcher for every ingestion type
func (p *WorkerPool) RegisterDispatcher(d *ingest.Dispatcher) {
	h := DispatchHandler(d)
	p.RegisterHandler(ingest.TypeVersion, h)
	p.RegisterHandler(ingest.TypeTopic, h)
}

// Start starts all workers in the pool
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.logger.Info("starting worker pool",
		zap.Int("workers", p.numWorkers),
		zap.String("queue", p.queue.cfg.Key))

	for i := 0; i < p.numWorkers; i++ {
		id := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, id, p.stopChan)
	}
}

// Stop signals all workers and waits for in-flight messages to finish
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false

	close(p.stopChan)
	p.wg.Wait()
	p.stopChan = make(chan struct{})
	p.logger.Info("worker pool stopped", zap.String("queue", p.queue.cfg.Key))
}

// Metrics returns the pool's metrics
func (p *WorkerPool) Metrics() *Metrics {
	return p.metrics
}

func (p *WorkerPool) run(ctx context.Context, id string, stop <-chan struct{}) {
	defer p.wg.Done()
	logger := p.logger.With(zap.String("worker", id))
	logger.Debug("worker started")

	for {
		select {
		case <-stop:
			logger.Debug("worker stopped")
			return
		case <-ctx.Done():
			logger.Debug("worker stopped", zap.Error(ctx.Err()))
			return
		default:
		}

		msg, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Warn("dequeue failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if msg == nil {
			continue
		}

		p.process(ctx, logger, msg)
	}
}

// process runs one delivery. Settling uses a fresh context so a message is
// never stranded by the shutdown that cancelled its handler.
func (p *WorkerPool) process(ctx context.Context, logger *zap.Logger, msg *Message) {
	start := time.Now()
	logger = logger.With(
		zap.String("message_id", msg.ID),
		zap.String("type", msg.Type),
		zap.Int("attempt", msg.Attempts+1))

	var err error
	handler, lookupErr := p.handlers.Get(msg.Type)
	if lookupErr != nil {
		err = registry.Invalid("dispatch", "Invalid type")
	} else {
		err = safeCall(ctx, handler, msg)
	}
	duration := time.Since(start)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch decide(err, msg, p.queue.cfg.MaxAttempts) {
	case outcomeAck:
		if ackErr := p.queue.Ack(settleCtx, msg); ackErr != nil {
			logger.Error("failed to ack message", zap.Error(ackErr))
			return
		}
		if err != nil {
			logger.Info("message already ingested", zap.Error(err), zap.Duration("took", duration))
			p.metrics.RecordDuplicate(msg.Type, duration)
			return
		}
		logger.Info("message processed", zap.Duration("took", duration))
		p.metrics.RecordSuccess(msg.Type, duration)

	case outcomeRetry:
		if retryErr := p.queue.Retry(settleCtx, msg); retryErr != nil {
			logger.Error("failed to retry message", zap.Error(retryErr))
			return
		}
		logger.Warn("message failed, retrying", zap.Error(err), zap.Int("max_attempts", p.queue.cfg.MaxAttempts))
		p.metrics.RecordRetry(msg.Type)

	case outcomeDead:
		if deadErr := p.queue.DeadLetter(settleCtx, msg); deadErr != nil {
			logger.Error("failed to dead-letter message", zap.Error(deadErr))
			return
		}
		logger.Warn("message moved to dead letter queue", zap.Error(err), zap.Stringer("kind", registry.KindOf(err)))
		p.metrics.RecordFailure(msg.Type, duration)
	}
}

func safeCall(ctx context.Context, handler Handler, msg *Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = registry.Internal("handle message", fmt.Errorf("panic: %v", rec))
		}
	}()
	return handler(ctx, msg)
}

// HandlerRegistry maps message types to handlers
type HandlerRegistry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for a message type
func (r *HandlerRegistry) Register(typ string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = handler
}

// Get retrieves the handler for a message type
func (r *HandlerRegistry) Get(typ string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[typ]
	if !ok {
		return nil, fmt.Errorf("no handler registered for message type: %s", typ)
	}
	return handler, nil
}
