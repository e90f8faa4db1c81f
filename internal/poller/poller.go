package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inboxforge/telegram-inbox/internal/telegram"
)

// ErrTokenRequired is returned by New when the bot token is empty. This
// is a configuration error: it is raised before any network access.
var ErrTokenRequired = errors.New("bot token is required")

// maxConcurrentNormalize bounds per-cycle attachment parallelism.
const maxConcurrentNormalize = 4

// State is the poller lifecycle state.
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// UpdateSource fetches pending provider updates from a given offset.
// Zero offset means no filter.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64) ([]telegram.Update, error)
}

// Config is the immutable per-poller configuration.
type Config struct {
	// Token is the bot credential. Required.
	Token string

	// Interval is the cooldown between fetch cycles, measured from
	// cycle completion. Zero means run one cycle and stop.
	Interval time.Duration

	// StartOffset is the last update id already consumed. Zero means
	// no prior state.
	StartOffset int64

	// AuthorizedUser restricts ingestion to one sender username.
	// Empty accepts all senders.
	AuthorizedUser string
}

// Poller owns the polling lifecycle, the monotonic offset and the
// orchestration of one fetch cycle at a time.
type Poller struct {
	cfg    Config
	source UpdateSource
	norm   *Normalizer
	sink   Sink
	logger *slog.Logger

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}

	offset   atomic.Int64
	inFlight atomic.Bool
}

// New validates the configuration and creates a Poller. It returns
// ErrTokenRequired for an empty token, before any cycle can run.
func New(cfg Config, source UpdateSource, fetcher AttachmentFetcher, sink Sink, logger *slog.Logger) (*Poller, error) {
	if cfg.Token == "" {
		return nil, ErrTokenRequired
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("polling interval must be non-negative, got %s", cfg.Interval)
	}
	if cfg.StartOffset < 0 {
		return nil, fmt.Errorf("start offset must be non-negative, got %d", cfg.StartOffset)
	}

	p := &Poller{
		cfg:    cfg,
		source: source,
		norm:   NewNormalizer(cfg.AuthorizedUser, fetcher, logger),
		sink:   sink,
		logger: logger,
		state:  StateIdle,
	}
	p.offset.Store(cfg.StartOffset)
	return p, nil
}

// Start begins polling: the first cycle runs immediately, independent
// of the cadence. Calling Start while the poller is already running is
// a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning || p.state == StateStopping {
		return
	}

	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.state = StateRunning

	p.logger.Info("poller starting", "interval", p.cfg.Interval, "offset", p.offset.Load())
	go p.run(p.stop, p.done)
}

// Stop prevents any further cycle from being scheduled. It does not
// interrupt an in-flight cycle. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateRunning:
		p.state = StateStopping
		close(p.stop)
	case StateIdle:
		// Stopping before any start is a direct Idle -> Stopped move.
		p.state = StateStopped
	}
}

// Terminate stops the poller and waits until the in-flight cycle, if
// any, has fully completed, including its sink delivery or failure log.
func (p *Poller) Terminate(ctx context.Context) error {
	p.Stop()

	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Offset reports the highest update id examined so far.
func (p *Poller) Offset() int64 {
	return p.offset.Load()
}

// run is the single goroutine that executes fetch cycles. Cycles never
// overlap: the next one is only considered after the previous finished
// and the cooldown elapsed.
func (p *Poller) run(stop, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		close(done)
		p.logger.Info("poller stopped", "offset", p.offset.Load())
	}()

	// An in-flight cycle is never aborted; each network call inside it
	// carries its own transport timeout.
	ctx := context.Background()

	for {
		p.cycle(ctx)

		if p.cfg.Interval == 0 {
			// Single-shot mode.
			return
		}

		select {
		case <-stop:
			return
		case <-time.After(p.cfg.Interval):
		}
		select {
		case <-stop:
			return
		default:
		}
	}
}

// cycle performs one fetch: request updates past the stored offset,
// normalize them, advance the offset over every examined update, and
// deliver the batch newest-first. Transport and parse failures are
// logged and swallowed; the next cycle retries from the same offset.
func (p *Poller) cycle(ctx context.Context) {
	p.inFlight.Store(true)
	defer p.inFlight.Store(false)

	var filter int64
	if off := p.offset.Load(); off > 0 {
		filter = off + 1
	}

	updates, err := p.source.GetUpdates(ctx, filter)
	if err != nil {
		p.logger.Error("fetch updates failed", "error", err)
		return
	}
	if len(updates) == 0 {
		return
	}

	// Normalize concurrently; slots keep provider order for assembly.
	results := make([]*Message, len(updates))
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentNormalize)
	for i, u := range updates {
		i, u := i, u
		g.Go(func() error {
			if m, ok := p.norm.Normalize(ctx, u); ok {
				results[i] = &m
			}
			return nil
		})
	}
	_ = g.Wait()

	// The offset advances over every examined update, including ones
	// the filter skipped; otherwise they would be redelivered forever.
	offset := p.offset.Load()
	for _, u := range updates {
		if u.UpdateID > offset {
			offset = u.UpdateID
		}
	}
	p.offset.Store(offset)

	messages := make([]Message, 0, len(updates))
	for i := len(results) - 1; i >= 0; i-- {
		if results[i] != nil {
			messages = append(messages, *results[i])
		}
	}

	if err := p.sink.Deliver(ctx, CycleResult{Messages: messages, Offset: offset}); err != nil {
		p.logger.Error("deliver cycle result failed", "error", err)
	}

	p.logger.Debug("cycle complete",
		"updates", len(updates),
		"messages", len(messages),
		"offset", offset,
	)
}
