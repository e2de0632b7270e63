package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/infrastructure"
	"sessiongate/internal/license"
	"sessiongate/pkg/contracts/events"
)

// Sender is the push primitive of the gateway. A failed push returns a
// *errors.DeliveryError.
type Sender interface {
	Send(ctx context.Context, handle string, payload []byte) error
}

// Invalidation describes a connection that lost its license to a newer one
type Invalidation struct {
	Handle       string
	LicenseKey   string
	Reason       string
	SupersededBy string
	SupersededAt time.Time
}

// PublisherConfig tunes the invalidation worker pool
type PublisherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Publisher delivers displacement notifications asynchronously.
// Each notification gets exactly one send attempt; failures are logged.
type Publisher struct {
	mu        sync.RWMutex
	queue     chan Invalidation
	workers   int
	timeout   time.Duration
	sender    Sender
	telemetry *Telemetry
	logger    *slog.Logger
	wg        sync.WaitGroup
	shutdown  chan struct{}
	running   bool
}

// NewPublisher creates a publisher; call Start before enqueuing
func NewPublisher(cfg PublisherConfig, sender Sender, telemetry *Telemetry, logger *slog.Logger) *Publisher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		queue:     make(chan Invalidation, cfg.QueueSize),
		workers:   cfg.Workers,
		timeout:   cfg.SendTimeout,
		sender:    sender,
		telemetry: telemetry,
		logger:    infrastructure.WithComponent(logger, "session.publisher"),
		shutdown:  make(chan struct{}),
	}
}

// Start launches the worker goroutines
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	p.logger.Info("starting invalidation publisher", slog.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals the workers and waits for queued notifications to drain
func (p *Publisher) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.shutdown)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("invalidation publisher stopped")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("invalidation publisher stop timeout exceeded",
			slog.Int("pending", len(p.queue)))
		return fmt.Errorf("timeout waiting for publisher workers to finish")
	}
}

// NotifyDisplaced enqueues a notification without blocking. A full queue or a
// stopped publisher drops it.
func (p *Publisher) NotifyDisplaced(ctx context.Context, inv Invalidation) {
	if inv.Reason == "" {
		inv.Reason = events.ReasonSuperseded
	}
	if inv.SupersededAt.IsZero() {
		inv.SupersededAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		p.drop(ctx, inv, "publisher not running")
		return
	}

	select {
	case p.queue <- inv:
		p.logger.DebugContext(ctx, "invalidation enqueued",
			slog.String("connection_handle", inv.Handle),
			slog.String("license", license.Fingerprint(inv.LicenseKey)))
	default:
		p.drop(ctx, inv, "queue full")
	}
}

// Pending returns the number of queued notifications
func (p *Publisher) Pending() int {
	return len(p.queue)
}

func (p *Publisher) drop(ctx context.Context, inv Invalidation, reason string) {
	p.logger.WarnContext(ctx, "invalidation dropped",
		slog.String("reason", reason),
		slog.String("connection_handle", inv.Handle),
		slog.String("license", license.Fingerprint(inv.LicenseKey)))
	p.telemetry.RecordInvalidation(ctx, OutcomeDropped)
}

func (p *Publisher) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	logger := p.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case inv := <-p.queue:
			p.deliver(ctx, inv, logger)
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.shutdown:
			// Drain what is already queued, then exit.
			for {
				select {
				case inv := <-p.queue:
					p.deliver(ctx, inv, logger)
				default:
					logger.Debug("worker stopped by shutdown")
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, inv Invalidation, logger *slog.Logger) {
	logger = logger.With(
		slog.String("connection_handle", inv.Handle),
		slog.String("superseded_by", inv.SupersededBy),
		slog.String("license", license.Fingerprint(inv.LicenseKey)),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("invalidation delivery panicked", slog.Any("panic", r))
			p.telemetry.RecordInvalidation(ctx, OutcomeFailed)
		}
	}()

	payload, err := json.Marshal(events.NewSessionTerminated(inv.Reason, inv.SupersededAt))
	if err != nil {
		logger.Error("failed to marshal invalidation", slog.String("error", err.Error()))
		p.telemetry.RecordInvalidation(ctx, OutcomeFailed)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.sender.Send(sendCtx, inv.Handle, payload); err != nil {
		if apierrors.IsDeliveryError(err) {
			logger.Warn("invalidation delivery failed", slog.String("error", err.Error()))
		} else {
			logger.Error("invalidation sender failed", slog.String("error", err.Error()))
		}
		p.telemetry.RecordInvalidation(ctx, OutcomeFailed)
		return
	}

	logger.Info("displaced connection notified")
	p.telemetry.RecordInvalidation(ctx, OutcomeDelivered)
}
