package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/perpwatch/engine/internal/connection"
	"github.com/perpwatch/engine/internal/detector"
	"github.com/perpwatch/engine/internal/leaderboard"
	"github.com/perpwatch/engine/internal/metrics"
	"github.com/perpwatch/engine/internal/model"
	"github.com/perpwatch/engine/internal/position"
)

// Snapshotter fetches the authoritative open-position snapshot for one
// address.
type Snapshotter interface {
	FetchPositions(ctx context.Context, address string) ([]model.Position, error)
}

// Subscriptions is the streaming side of the pipeline. Satisfied by
// *connection.Manager.
type Subscriptions interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reconcile(added, removed []string)
	Fills() <-chan connection.FillEvent
	Subscribed() <-chan string
	SubscribedCount() int
}

// AlertFunc receives every alert that passed qualification and dedup.
type AlertFunc func(model.AlertRecord)

// Config holds engine tunables.
type Config struct {
	Source          string // tag stamped onto emitted alerts
	RefreshInterval time.Duration
	RefreshTimeout  time.Duration // per-call deadline on leaderboard fetches; 0 disables
	MinValueUSD     float64
	MinLeverage     float64
	DedupCap        int
	DedupRetain     int
}

// Status is a point-in-time snapshot of engine health.
type Status struct {
	Running     bool      `json:"running"`
	Targets     int       `json:"targets"`
	Subscribed  int       `json:"subscribed"`
	LastRefresh time.Time `json:"last_refresh"`
	Degraded    bool      `json:"degraded"`
	MinValueUSD float64   `json:"min_value_usd"`
	MinLeverage float64   `json:"min_leverage"`
}

// Engine wires the registry, subscription manager, position store and
// detector together.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	api      Snapshotter
	registry *leaderboard.Registry
	subs     Subscriptions

	store    *position.Store
	detector detector.Detector
	dedup    *detector.DedupCache
	emit     AlertFunc

	// group collapses concurrent snapshot fetches for one address
	// into a single upstream call.
	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	degraded bool
}

// New creates an engine. The emit callback may be nil, in which case
// alerts are only logged.
func New(
	cfg Config,
	api Snapshotter,
	registry *leaderboard.Registry,
	subs Subscriptions,
	emit AlertFunc,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		api:      api,
		registry: registry,
		subs:     subs,
		store:    position.NewStore(logger),
		detector: detector.Detector{
			MinValueUSD: cfg.MinValueUSD,
			MinLeverage: cfg.MinLeverage,
		},
		dedup: detector.NewDedupCache(cfg.DedupCap, cfg.DedupRetain),
		emit:  emit,
	}
}

// Start performs the initial leaderboard refresh, brings up the
// streaming transport and launches the processing loops. A failed
// initial refresh does not abort startup; the engine runs degraded
// with an empty target set until the next refresh succeeds.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.subs.Start(e.ctx); err != nil {
		return err
	}

	e.refresh()

	e.wg.Add(3)
	go e.refreshLoop()
	go e.fillLoop()
	go e.seedLoop()

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.logger.Info("engine started",
		"targets", e.registry.Size(),
		"min_value_usd", e.cfg.MinValueUSD,
		"min_leverage", e.cfg.MinLeverage,
		"refresh_interval", e.cfg.RefreshInterval,
	)
	return nil
}

// Stop shuts the pipeline down. No reconnect or refresh happens after
// Stop returns.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("stopping engine")

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}

	err := e.subs.Stop(ctx)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-ctx.Done():
		e.logger.Warn("engine stop timed out")
		if err == nil {
			err = ctx.Err()
		}
	}

	return err
}

// Status reports current engine health for the status endpoint.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	degraded := e.degraded
	e.mu.Unlock()

	return Status{
		Running:     running,
		Targets:     e.registry.Size(),
		Subscribed:  e.subs.SubscribedCount(),
		LastRefresh: e.registry.LastRefresh(),
		Degraded:    degraded,
		MinValueUSD: e.cfg.MinValueUSD,
		MinLeverage: e.cfg.MinLeverage,
	}
}

// Targets returns the current target set for the debug endpoint.
func (e *Engine) Targets() []string {
	return e.registry.Current()
}

// refreshLoop re-pulls the leaderboard on a fixed interval.
func (e *Engine) refreshLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.refresh()
		}
	}
}

// refresh pulls the ranking and reconciles subscriptions with the
// diff. On failure the previous target set stays live.
func (e *Engine) refresh() {
	ctx := e.ctx
	if e.cfg.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RefreshTimeout)
		defer cancel()
	}

	added, removed, err := e.registry.Refresh(ctx)
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues("failure").Inc()
		e.mu.Lock()
		e.degraded = true
		e.mu.Unlock()
		return
	}

	metrics.RefreshesTotal.WithLabelValues("success").Inc()
	metrics.TargetAddresses.Set(float64(e.registry.Size()))
	e.mu.Lock()
	e.degraded = false
	e.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}

	e.subs.Reconcile(added, removed)

	// Dropped addresses also lose their cached position state; if
	// they re-enter the ranking later they are re-seeded fresh.
	for _, addr := range removed {
		e.store.Drop(addr)
	}
}

// seedLoop baselines position state for newly subscribed addresses.
// Seeding records current holdings without emitting alerts, so only
// activity after subscription can fire.
func (e *Engine) seedLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case addr := <-e.subs.Subscribed():
			e.wg.Add(1)
			go func(addr string) {
				defer e.wg.Done()
				positions, err := e.fetchPositions(addr)
				if err != nil {
					e.logger.Warn("seed fetch failed", "address", addr, "error", err)
					return
				}
				e.store.Seed(addr, positions)
				e.logger.Debug("seeded baseline", "address", addr, "positions", len(positions))
			}(addr)
		}
	}
}

// fillLoop turns fill notifications into snapshot refetches and diffs.
// Each event is handled as its own task so one slow fetch never delays
// fills for other addresses; the store serializes per address and the
// singleflight group collapses concurrent refetches for one address.
func (e *Engine) fillLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.subs.Fills():
			e.wg.Add(1)
			go func(ev connection.FillEvent) {
				defer e.wg.Done()
				e.handleFill(ev)
			}(ev)
		}
	}
}

// handleFill refetches the address snapshot and classifies every
// changed position. A failed fetch skips this cycle; cached state is
// left untouched and the next fill retries naturally.
func (e *Engine) handleFill(ev connection.FillEvent) {
	if !e.registry.Contains(ev.Address) {
		// Unsubscribe raced with an in-flight fill.
		metrics.FillEvents.WithLabelValues("dropped").Inc()
		return
	}

	positions, err := e.fetchPositions(ev.Address)
	if err != nil {
		metrics.FillEvents.WithLabelValues("dropped").Inc()
		var fetchErr *model.AddressFetchError
		if errors.As(err, &fetchErr) {
			e.logger.Warn("snapshot refetch failed, skipping cycle",
				"address", ev.Address,
				"op", fetchErr.Op,
				"error", err,
			)
			return
		}
		e.logger.Warn("snapshot refetch failed, skipping cycle", "address", ev.Address, "error", err)
		return
	}

	metrics.FillEvents.WithLabelValues("processed").Inc()

	changes := e.store.Apply(ev.Address, positions)

	// The ranking may have dropped the address while the snapshot was
	// in flight; Apply would then have re-created its table. Re-check
	// and drop so the state does not linger until re-subscription.
	if !e.registry.Contains(ev.Address) {
		e.store.Drop(ev.Address)
		return
	}

	for _, change := range changes {
		e.classify(change)
	}
}

// classify runs one position transition through the detector and
// emits when it survives dedup.
func (e *Engine) classify(change position.Change) {
	switch e.detector.DetectTransition(change.Previous, change.Current) {
	case detector.NewQualifyingEvent:
		e.emitAlert(change.Address, *change.Current)

	case detector.PositionClosed:
		e.logger.Info("position closed",
			"address", change.Address,
			"instrument", change.Instrument,
		)
	}
}

func (e *Engine) emitAlert(address string, p model.Position) {
	sig := model.SignatureFor(address, p)
	if !e.dedup.ShouldEmit(sig) {
		metrics.DedupSuppressed.Inc()
		e.logger.Debug("duplicate alert suppressed",
			"address", address,
			"instrument", p.Instrument,
		)
		return
	}
	e.dedup.Record(sig)

	alert := model.AlertRecord{
		ID:         uuid.New(),
		Address:    address,
		Instrument: p.Instrument,
		Size:       p.Size,
		ValueUSD:   p.ValueUSD,
		Leverage:   p.EffectiveLeverage(),
		Direction:  p.Direction(),
		Source:     e.cfg.Source,
		CreatedAt:  time.Now().UTC(),
	}

	metrics.AlertsEmitted.WithLabelValues(p.Instrument).Inc()
	e.logger.Info("alert",
		"id", alert.ID,
		"address", alert.Address,
		"instrument", alert.Instrument,
		"value_usd", alert.ValueUSD,
		"leverage", alert.Leverage,
	)

	if e.emit != nil {
		e.emit(alert)
	}
}

// fetchPositions collapses concurrent snapshot fetches per address.
func (e *Engine) fetchPositions(address string) ([]model.Position, error) {
	start := time.Now()
	v, err, _ := e.group.Do(address, func() (any, error) {
		return e.api.FetchPositions(e.ctx, address)
	})
	if err != nil {
		metrics.FetchErrors.WithLabelValues("positions").Inc()
		return nil, err
	}
	metrics.SnapshotFetchSeconds.Observe(time.Since(start).Seconds())
	return v.([]model.Position), nil
}
