package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/perpwatch/engine/internal/connection"
	"github.com/perpwatch/engine/internal/leaderboard"
	"github.com/perpwatch/engine/internal/model"
)

// fakeAPI serves canned leaderboards and position snapshots.
type fakeAPI struct {
	mu        sync.Mutex
	ranking   []string
	positions map[string][]model.Position
	fetchErr  map[string]error

	// rankingHang makes FetchLeaderboard block until its context is
	// canceled; posGate, when non-nil, holds FetchPositions until
	// closed. Both are used to interleave refreshes with in-flight
	// calls.
	rankingHang bool
	posGate     chan struct{}
}

func newFakeAPI(ranking ...string) *fakeAPI {
	return &fakeAPI{
		ranking:   ranking,
		positions: make(map[string][]model.Position),
		fetchErr:  make(map[string]error),
	}
}

func (f *fakeAPI) FetchLeaderboard(ctx context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	hang := f.rankingHang
	out := make([]string, len(f.ranking))
	copy(out, f.ranking)
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return out, nil
}

func (f *fakeAPI) FetchPositions(ctx context.Context, address string) ([]model.Position, error) {
	f.mu.Lock()
	gate := f.posGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[address]; err != nil {
		return nil, &model.AddressFetchError{Address: address, Op: "positions", Err: err}
	}
	out := make([]model.Position, len(f.positions[address]))
	copy(out, f.positions[address])
	return out, nil
}

func (f *fakeAPI) setPositions(address string, positions ...model.Position) {
	f.mu.Lock()
	f.positions[address] = positions
	f.mu.Unlock()
}

func (f *fakeAPI) setRanking(ranking ...string) {
	f.mu.Lock()
	f.ranking = ranking
	f.mu.Unlock()
}

func (f *fakeAPI) setRankingHang(hang bool) {
	f.mu.Lock()
	f.rankingHang = hang
	f.mu.Unlock()
}

func (f *fakeAPI) setPositionsGate(gate chan struct{}) {
	f.mu.Lock()
	f.posGate = gate
	f.mu.Unlock()
}

func (f *fakeAPI) setFetchErr(address string, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.fetchErr, address)
	} else {
		f.fetchErr[address] = err
	}
	f.mu.Unlock()
}

// fakeSubs is an in-memory Subscriptions implementation.
type fakeSubs struct {
	mu         sync.Mutex
	added      []string
	removed    []string
	fills      chan connection.FillEvent
	subscribed chan string
	stopped    bool
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{
		fills:      make(chan connection.FillEvent, 100),
		subscribed: make(chan string, 100),
	}
}

func (f *fakeSubs) Start(ctx context.Context) error { return nil }

func (f *fakeSubs) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSubs) Reconcile(added, removed []string) {
	f.mu.Lock()
	f.added = append(f.added, added...)
	f.removed = append(f.removed, removed...)
	f.mu.Unlock()
}

func (f *fakeSubs) Fills() <-chan connection.FillEvent { return f.fills }
func (f *fakeSubs) Subscribed() <-chan string          { return f.subscribed }

func (f *fakeSubs) SubscribedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added) - len(f.removed)
}

func (f *fakeSubs) allAdded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.added))
	copy(out, f.added)
	return out
}

func (f *fakeSubs) allRemoved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}

// alertSink collects emitted alerts.
type alertSink struct {
	mu     sync.Mutex
	alerts []model.AlertRecord
}

func (s *alertSink) emit(a model.AlertRecord) {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
}

func (s *alertSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func (s *alertSink) last() model.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[len(s.alerts)-1]
}

func testEngineConfig() Config {
	return Config{
		Source:          "test-monitor",
		RefreshInterval: time.Hour,
		MinValueUSD:     100_000,
		MinLeverage:     30,
		DedupCap:        1000,
		DedupRetain:     500,
	}
}

func startEngine(t *testing.T, cfg Config, api *fakeAPI, subs *fakeSubs, sink *alertSink) *Engine {
	t.Helper()

	registry := leaderboard.NewRegistry(api, 100, nil)
	e := New(cfg, api, registry, subs, sink.emit, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		e.Stop(ctx)
	})

	return e
}

func waitForCount(t *testing.T, want int, count func() int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("count = %d, want %d before timeout", count(), want)
}

func fill(address string) connection.FillEvent {
	return connection.FillEvent{
		Address:    address,
		Fills:      []model.Fill{{Instrument: "BTC", Price: 60000, Size: 1, Side: "B", Time: time.Now()}},
		ReceivedAt: time.Now(),
	}
}

func qualifyingBTC() model.Position {
	return model.Position{
		Instrument: "BTC",
		Size:       2.5,
		ValueUSD:   150_000,
		MarginUsed: 4_000, // derived leverage 37.5
		EntryPrice: 60_000,
	}
}

func TestEngine_EmitsAlertOnNewQualifyingPosition(t *testing.T) {
	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	startEngine(t, testEngineConfig(), api, subs, sink)

	// Startup refresh must subscribe the full target set.
	if got := subs.allAdded(); len(got) != 1 || got[0] != "0xaaa" {
		t.Fatalf("added = %v, want [0xaaa]", got)
	}

	// Baseline: flat account at subscription time.
	subs.subscribed <- "0xaaa"
	time.Sleep(50 * time.Millisecond)

	// A fill arrives and the fresh snapshot shows a qualifying long.
	api.setPositions("0xaaa", qualifyingBTC())
	subs.fills <- fill("0xaaa")

	waitForCount(t, 1, sink.count)

	alert := sink.last()
	if alert.Address != "0xaaa" {
		t.Errorf("Address = %s, want 0xaaa", alert.Address)
	}
	if alert.Instrument != "BTC" {
		t.Errorf("Instrument = %s, want BTC", alert.Instrument)
	}
	if alert.ValueUSD != 150_000 {
		t.Errorf("ValueUSD = %v, want 150000", alert.ValueUSD)
	}
	if alert.Leverage != 37.5 {
		t.Errorf("Leverage = %v, want 37.5", alert.Leverage)
	}
	if alert.Direction != "long" {
		t.Errorf("Direction = %s, want long", alert.Direction)
	}
	if alert.Source != "test-monitor" {
		t.Errorf("Source = %s, want test-monitor", alert.Source)
	}
	if alert.ID == uuid.Nil {
		t.Error("ID is zero, want generated UUID")
	}

	// The same position seen again is not a new transition.
	subs.fills <- fill("0xaaa")
	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 1 {
		t.Errorf("alerts = %d, want 1 (edge-triggered)", got)
	}
}

func TestEngine_SeedNeverAlerts(t *testing.T) {
	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	startEngine(t, testEngineConfig(), api, subs, sink)

	// The account already holds a qualifying position when it first
	// enters the ranking: baseline silently, no alert.
	api.setPositions("0xaaa", qualifyingBTC())
	subs.subscribed <- "0xaaa"
	time.Sleep(50 * time.Millisecond)

	subs.fills <- fill("0xaaa")
	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Errorf("alerts = %d, want 0 for pre-existing position", got)
	}
}

func TestEngine_ReopenedPositionDeduped(t *testing.T) {
	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	startEngine(t, testEngineConfig(), api, subs, sink)

	subs.subscribed <- "0xaaa"
	time.Sleep(50 * time.Millisecond)

	api.setPositions("0xaaa", qualifyingBTC())
	subs.fills <- fill("0xaaa")
	waitForCount(t, 1, sink.count)

	// Close it.
	api.setPositions("0xaaa")
	subs.fills <- fill("0xaaa")
	time.Sleep(100 * time.Millisecond)

	// Re-open at the same size: same signature, suppressed.
	api.setPositions("0xaaa", qualifyingBTC())
	subs.fills <- fill("0xaaa")
	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 1 {
		t.Errorf("alerts = %d, want 1 (re-open deduped)", got)
	}
}

func TestEngine_ShortPositionNeverAlerts(t *testing.T) {
	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	startEngine(t, testEngineConfig(), api, subs, sink)

	subs.subscribed <- "0xaaa"
	time.Sleep(50 * time.Millisecond)

	short := qualifyingBTC()
	short.Size = -short.Size
	api.setPositions("0xaaa", short)
	subs.fills <- fill("0xaaa")
	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Errorf("alerts = %d, want 0 for short position", got)
	}
}

func TestEngine_FetchFailureSkipsCycle(t *testing.T) {
	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	startEngine(t, testEngineConfig(), api, subs, sink)

	subs.subscribed <- "0xaaa"
	time.Sleep(50 * time.Millisecond)

	api.setPositions("0xaaa", qualifyingBTC())
	api.setFetchErr("0xaaa", fmt.Errorf("upstream 503"))
	subs.fills <- fill("0xaaa")
	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Errorf("alerts = %d, want 0 while fetch fails", got)
	}

	// Next fill retries naturally once upstream recovers.
	api.setFetchErr("0xaaa", nil)
	subs.fills <- fill("0xaaa")
	waitForCount(t, 1, sink.count)
}

func TestEngine_RefreshReconcilesTargetSet(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RefreshInterval = 50 * time.Millisecond

	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	startEngine(t, cfg, api, subs, sink)

	api.setRanking("0xbbb")

	waitForCount(t, 1, func() int { return len(subs.allRemoved()) })

	if got := subs.allRemoved(); got[0] != "0xaaa" {
		t.Errorf("removed = %v, want [0xaaa]", got)
	}

	found := false
	for _, a := range subs.allAdded() {
		if a == "0xbbb" {
			found = true
		}
	}
	if !found {
		t.Errorf("added = %v, want to include 0xbbb", subs.allAdded())
	}
}

func TestEngine_FillForDroppedAddressIgnored(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RefreshInterval = 50 * time.Millisecond

	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	startEngine(t, cfg, api, subs, sink)

	subs.subscribed <- "0xaaa"
	time.Sleep(50 * time.Millisecond)

	// Drop the address, then deliver a late fill.
	api.setRanking("0xbbb")
	waitForCount(t, 1, func() int { return len(subs.allRemoved()) })

	api.setPositions("0xaaa", qualifyingBTC())
	subs.fills <- fill("0xaaa")
	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Errorf("alerts = %d, want 0 for dropped address", got)
	}
}

func TestEngine_RefreshTimeoutBoundsStalledFetch(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RefreshTimeout = 50 * time.Millisecond

	api := newFakeAPI("0xaaa")
	api.setRankingHang(true)
	subs := newFakeSubs()
	sink := &alertSink{}

	// The startup refresh is synchronous; without a per-call deadline
	// a stalled leaderboard fetch would block Start indefinitely.
	start := time.Now()
	e := startEngine(t, cfg, api, subs, sink)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Start took %v, want well under a second", elapsed)
	}
	if !e.Status().Degraded {
		t.Error("Degraded = false, want true after timed-out refresh")
	}
}

func TestEngine_LeaderboardDropDuringSnapshotLeavesNoState(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RefreshInterval = 50 * time.Millisecond

	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}
	e := startEngine(t, cfg, api, subs, sink)

	// Hold the snapshot fetch in flight while the ranking drops the
	// address, then release it. The late snapshot must not rebuild
	// the dropped address's table or alert on it.
	gate := make(chan struct{})
	api.setPositionsGate(gate)
	api.setPositions("0xaaa", qualifyingBTC())
	subs.fills <- fill("0xaaa")
	time.Sleep(20 * time.Millisecond)

	api.setRanking("0xbbb")
	waitForCount(t, 1, func() int { return len(subs.allRemoved()) })
	close(gate)

	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Errorf("alerts = %d, want 0 for address dropped mid-fetch", got)
	}
	if got := e.store.AddressCount(); got != 0 {
		t.Errorf("tracked addresses = %d, want 0 after drop", got)
	}
}

func TestEngine_Status(t *testing.T) {
	api := newFakeAPI("0xaaa", "0xbbb")
	subs := newFakeSubs()
	sink := &alertSink{}
	e := startEngine(t, testEngineConfig(), api, subs, sink)

	st := e.Status()

	if !st.Running {
		t.Error("Running = false, want true")
	}
	if st.Targets != 2 {
		t.Errorf("Targets = %d, want 2", st.Targets)
	}
	if st.Degraded {
		t.Error("Degraded = true, want false after successful refresh")
	}
	if st.MinValueUSD != 100_000 {
		t.Errorf("MinValueUSD = %v, want 100000", st.MinValueUSD)
	}
	if st.LastRefresh.IsZero() {
		t.Error("LastRefresh is zero, want set")
	}
}

func TestEngine_StopStopsSubscriptions(t *testing.T) {
	api := newFakeAPI("0xaaa")
	subs := newFakeSubs()
	sink := &alertSink{}

	registry := leaderboard.NewRegistry(api, 100, nil)
	e := New(testEngineConfig(), api, registry, subs, sink.emit, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	subs.mu.Lock()
	stopped := subs.stopped
	subs.mu.Unlock()
	if !stopped {
		t.Error("subscriptions not stopped")
	}

	if e.Status().Running {
		t.Error("Running = true after Stop")
	}
}
