package ticker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/calticker/event"
	tickerotel "github.com/petal-labs/calticker/otel"
	"github.com/petal-labs/calticker/source"
)

const defaultRefreshInterval = 60 * time.Second

// Broadcaster receives each fresh snapshot for fan-out to connected clients.
type Broadcaster interface {
	Broadcast(event.Snapshot)
}

// RefresherConfig configures the background refresh loop.
type RefresherConfig struct {
	Source source.Source
	Cache  *Cache

	// Broadcaster is optional; when nil, snapshots are cached but not
	// pushed.
	Broadcaster Broadcaster

	Policy       event.FilterPolicy
	Presentation event.PresentationConfig

	// LookaheadHours is the forward fetch window. Defaults to 24.
	LookaheadHours int

	// CronExpr is an optional UTC 5-field cron schedule. When empty the
	// loop falls back to Interval.
	CronExpr string

	// Interval is the fixed refresh period used when CronExpr is empty.
	// Defaults to one minute.
	Interval time.Duration

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *tickerotel.Metrics
}

// Refresher runs refresh cycles on a schedule and on demand. A cycle fetches
// raw events, filters and formats them against a single reference instant,
// replaces the cached snapshot, and broadcasts it. A failed cycle leaves the
// cache untouched.
type Refresher struct {
	source         source.Source
	cache          *Cache
	broadcaster    Broadcaster
	policy         event.FilterPolicy
	presentation   event.PresentationConfig
	lookaheadHours int
	cronExpr       string
	interval       time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        *tickerotel.Metrics
	tracer         trace.Tracer

	mu       sync.Mutex
	inflight *cycleResult
	cancel   context.CancelFunc
	done     chan struct{}
}

// cycleResult lets concurrent Trigger calls share one in-flight cycle.
type cycleResult struct {
	done  chan struct{}
	count int
	err   error
}

// NewRefresher creates a refresher instance.
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if cfg.Source == nil {
		return nil, errors.New("refresher source is nil")
	}
	if cfg.Cache == nil {
		return nil, errors.New("refresher cache is nil")
	}
	if cfg.LookaheadHours <= 0 {
		cfg.LookaheadHours = 24
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRefreshInterval
	}
	if cfg.CronExpr != "" {
		if _, err := parseRefreshCron(cfg.CronExpr); err != nil {
			return nil, err
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Refresher{
		source:         cfg.Source,
		cache:          cfg.Cache,
		broadcaster:    cfg.Broadcaster,
		policy:         cfg.Policy,
		presentation:   cfg.Presentation,
		lookaheadHours: cfg.LookaheadHours,
		cronExpr:       cfg.CronExpr,
		interval:       cfg.Interval,
		now:            cfg.Now,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		tracer:         otel.Tracer("github.com/petal-labs/calticker/ticker"),
	}, nil
}

// Start begins background refreshing. The first cycle runs immediately so
// clients connecting at startup see real data as soon as the source answers.
// Calling Start on a started refresher is a no-op.
func (r *Refresher) Start(ctx context.Context) error {
	if r == nil {
		return errors.New("refresher is nil")
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		_, _ = r.Trigger(loopCtx)

		if r.cronExpr != "" {
			r.runCronLoop(loopCtx)
			return
		}
		r.runIntervalLoop(loopCtx)
	}()

	_ = ctx
	return nil
}

// Stop halts background refreshing and waits for the loop to exit.
func (r *Refresher) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

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

func (r *Refresher) runIntervalLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Trigger(ctx)
		}
	}
}

func (r *Refresher) runCronLoop(ctx context.Context) {
	for {
		now := r.now()
		next, err := nextRefreshRunUTC(r.cronExpr, now)
		if err != nil {
			// Validated at construction; a failure here means the
			// expression never fires again.
			r.logger.Error("cron schedule evaluation failed", "error", err)
			return
		}

		timer := time.NewTimer(next.Sub(now.UTC()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_, _ = r.Trigger(ctx)
		}
	}
}

// Trigger runs one refresh cycle and returns the resulting event count. When
// a cycle is already in flight, Trigger waits for it and returns its result
// instead of starting another. On failure it returns the count of the
// untouched cached snapshot alongside the error.
func (r *Refresher) Trigger(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.inflight != nil {
		res := r.inflight
		r.mu.Unlock()
		select {
		case <-res.done:
			return res.count, res.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	res := &cycleResult{done: make(chan struct{})}
	r.inflight = res
	r.mu.Unlock()

	res.count, res.err = r.runCycle(ctx)
	close(res.done)

	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()

	return res.count, res.err
}

func (r *Refresher) runCycle(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "refresh.cycle")
	defer span.End()

	start := r.now()
	raw, err := r.source.FetchUpcoming(ctx, r.lookaheadHours)
	if err != nil {
		elapsed := r.now().Sub(start)
		r.metrics.RefreshCycle(ctx, elapsed, err)
		span.RecordError(err)
		r.logger.Error("refresh cycle failed", "error", err, "elapsed", elapsed)
		return len(r.cache.Snapshot().Events), err
	}

	kept := event.Filter(raw, r.policy)

	// One reference instant for the whole snapshot.
	now := r.now()
	display := make([]event.DisplayEvent, 0, len(kept))
	for _, e := range kept {
		display = append(display, event.Format(e, r.presentation, now))
	}
	sort.SliceStable(display, func(i, j int) bool {
		return display[i].Start.Before(display[j].Start)
	})

	snapshot := event.Snapshot{Events: display, RefreshedAt: now}
	r.cache.Replace(snapshot)
	if r.broadcaster != nil {
		r.broadcaster.Broadcast(snapshot)
	}

	elapsed := r.now().Sub(start)
	r.metrics.RefreshCycle(ctx, elapsed, nil)
	span.SetAttributes(
		attribute.Int("fetched", len(raw)),
		attribute.Int("kept", len(display)),
	)
	r.logger.Info("refresh cycle complete",
		"fetched", len(raw),
		"kept", len(display),
		"elapsed", elapsed,
	)
	return len(display), nil
}
