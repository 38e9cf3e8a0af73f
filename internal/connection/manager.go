package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/perpwatch/engine/internal/metrics"
	"github.com/perpwatch/engine/internal/model"
)

// Manager owns the streaming connection and the per-address
// subscription state machine:
//
//	Unsubscribed -> Subscribing -> Subscribed -> Unsubscribing -> Unsubscribed
//
// Control frames are dispatched in fixed-size batches with a fixed
// inter-batch delay. The venue sends no per-subscription ack, so an
// address becomes Subscribed optimistically once its frame is written.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// dial is swapped in tests to inject a fake transport.
	dial func(ctx context.Context) (Client, error)

	limiter *rate.Limiter

	fills      chan FillEvent
	subscribed chan string

	mu      sync.Mutex
	client  Client
	states  map[string]SubState
	desired map[string]struct{}
	pending []subOp

	// gen identifies the current connection. Queued ops carry the gen
	// they were created under; ops from an older connection are
	// discarded at dispatch so the wholesale re-queue on reconnect
	// cannot double-subscribe an address.
	gen uint64

	kick chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// subOp is one queued control-frame dispatch.
type subOp struct {
	address   string
	subscribe bool
	gen       uint64
}

// NewManager creates a subscription manager for the configured venue.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Every(cfg.BatchDelay), 1),
		fills:      make(chan FillEvent, cfg.BufferSize),
		subscribed: make(chan string, cfg.BufferSize),
		states:     make(map[string]SubState),
		desired:    make(map[string]struct{}),
		kick:       make(chan struct{}, 1),
	}

	m.dial = func(ctx context.Context) (Client, error) {
		c := NewClient(ClientConfig{
			URL:          cfg.WSURL,
			PingTimeout:  cfg.PingTimeout,
			WriteTimeout: cfg.WriteTimeout,
			BufferSize:   cfg.BufferSize,
		}, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}

	return m
}

// Start begins the connection and dispatch loops.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.connectionLoop()
	go m.dispatchLoop()

	m.logger.Info("subscription manager started",
		"batch_size", m.cfg.BatchSize,
		"batch_delay", m.cfg.BatchDelay,
	)
	return nil
}

// Stop closes the transport and suppresses any further reconnects.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	client := m.client
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if client != nil {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("subscription manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("subscription manager stop timed out")
		return ctx.Err()
	}
}

// Fills returns the channel of inbound fill events.
func (m *Manager) Fills() <-chan FillEvent {
	return m.fills
}

// Subscribed returns a channel of addresses whose subscription just
// became active. Consumers seed position state on receipt; after a
// reconnect every address is re-announced.
func (m *Manager) Subscribed() <-chan string {
	return m.subscribed
}

// Reconcile adjusts the live subscription set toward a new target set.
// Added addresses are queued for subscription, removed ones for
// unsubscription; dispatch happens in paced batches.
func (m *Manager) Reconcile(added, removed []string) {
	m.mu.Lock()
	for _, addr := range added {
		m.desired[addr] = struct{}{}
		switch m.states[addr] {
		case Subscribed, Subscribing:
			// Already on the wire; invariant: one subscription per address.
		default:
			m.states[addr] = Subscribing
			m.pending = append(m.pending, subOp{address: addr, subscribe: true, gen: m.gen})
		}
	}
	for _, addr := range removed {
		delete(m.desired, addr)
		switch m.states[addr] {
		case Subscribed, Subscribing:
			m.states[addr] = Unsubscribing
			m.pending = append(m.pending, subOp{address: addr, subscribe: false, gen: m.gen})
		case Unsubscribing:
			// Already queued.
		default:
			delete(m.states, addr)
		}
	}
	queued := len(m.pending)
	m.mu.Unlock()

	if queued > 0 {
		m.kickDispatch()
	}
}

// SubscribedCount returns the number of addresses currently Subscribed.
func (m *Manager) SubscribedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, st := range m.states {
		if st == Subscribed {
			n++
		}
	}
	return n
}

// State returns the subscription state for one address.
func (m *Manager) State(address string) SubState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[address]
}

func (m *Manager) kickDispatch() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// connectionLoop maintains exactly one live connection. An unexpected
// close while running always triggers a reconnect after the fixed
// delay; a close after Stop() does not.
func (m *Manager) connectionLoop() {
	defer m.wg.Done()

	for {
		if m.ctx.Err() != nil {
			return
		}

		client, err := m.dial(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Warn("connect failed", "error", err, "retry_in", m.cfg.ReconnectDelay)
			if !m.waitReconnect() {
				return
			}
			continue
		}

		m.onConnected(client)
		m.readLoop(client)
		m.onDisconnected(client)

		m.mu.Lock()
		stopped := m.stopped
		m.mu.Unlock()
		if stopped || m.ctx.Err() != nil {
			return
		}

		m.logger.Warn("connection lost, reconnecting", "retry_in", m.cfg.ReconnectDelay)
		if !m.waitReconnect() {
			return
		}
	}
}

func (m *Manager) waitReconnect() bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(m.cfg.ReconnectDelay):
		metrics.ReconnectsTotal.Inc()
		return true
	}
}

// onConnected installs the new client and re-queues the entire target
// set from scratch; the transport gives no delivery guarantee across a
// disconnect, so there is no partial resume.
func (m *Manager) onConnected(client Client) {
	m.mu.Lock()
	m.client = client
	m.gen++
	// Ops queued against the previous connection (including any batch
	// already popped by the dispatcher) are now stale; the rebuild
	// below is the only valid frame source for this connection.
	m.pending = m.pending[:0]
	m.states = make(map[string]SubState, len(m.desired))
	for addr := range m.desired {
		m.states[addr] = Subscribing
		m.pending = append(m.pending, subOp{address: addr, subscribe: true, gen: m.gen})
	}
	targets := len(m.desired)
	m.mu.Unlock()

	metrics.SubscribedAddresses.Set(0)

	m.logger.Info("transport connected", "targets", targets)
	if targets > 0 {
		m.kickDispatch()
	}
}

// onDisconnected forces every live subscription back to Unsubscribed.
func (m *Manager) onDisconnected(client Client) {
	client.Close()

	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	for addr, st := range m.states {
		if st == Subscribed || st == Subscribing {
			m.states[addr] = Unsubscribed
		}
	}
	m.mu.Unlock()

	metrics.SubscribedAddresses.Set(0)
}

// readLoop consumes one client's messages until the connection fails
// or the manager shuts down.
func (m *Manager) readLoop(client Client) {
	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.logger.Warn("transport error", "error", err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.handleMessage(msg)
		}
	}
}

// handleMessage parses one inbound frame and forwards fill events.
func (m *Manager) handleMessage(msg TimestampedMessage) {
	var envelope inboundMessage
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		m.logger.Debug("unparseable frame", "error", err)
		return
	}

	if envelope.Channel != fillChannel {
		return
	}

	var data fillsData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		m.logger.Debug("unparseable fills payload", "error", err)
		return
	}

	// Initial state replays carry history, not new activity; state
	// seeding comes from the authoritative snapshot call instead.
	if data.IsSnapshot {
		return
	}

	event := FillEvent{
		Address:    data.User,
		Fills:      make([]model.Fill, 0, len(data.Fills)),
		ReceivedAt: msg.ReceivedAt,
	}
	for _, f := range data.Fills {
		px, _ := strconv.ParseFloat(f.Px, 64)
		sz, _ := strconv.ParseFloat(f.Sz, 64)
		event.Fills = append(event.Fills, model.Fill{
			Instrument: f.Coin,
			Price:      px,
			Size:       sz,
			Side:       f.Side,
			Time:       time.UnixMilli(f.Time),
		})
	}

	select {
	case m.fills <- event:
	case <-m.ctx.Done():
	default:
		m.logger.Warn("fill buffer full, dropping event", "address", data.User)
	}
}

// dispatchLoop drains queued control frames in paced batches.
func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.kick:
		}

		for {
			batch := m.takeBatch()
			if len(batch) == 0 {
				break
			}

			if err := m.limiter.Wait(m.ctx); err != nil {
				return
			}
			m.sendBatch(batch)
		}
	}
}

// takeBatch removes up to BatchSize queued operations.
func (m *Manager) takeBatch() []subOp {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.pending)
	if n == 0 {
		return nil
	}
	if n > m.cfg.BatchSize {
		n = m.cfg.BatchSize
	}

	batch := make([]subOp, n)
	copy(batch, m.pending[:n])
	m.pending = append(m.pending[:0], m.pending[n:]...)
	return batch
}

// sendBatch writes one batch of control frames.
func (m *Manager) sendBatch(batch []subOp) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		// Subscriptions are rebuilt wholesale on reconnect; dropping
		// the queued ops here is safe.
		m.logger.Debug("no transport, dropping batch", "ops", len(batch))
		return
	}

	for _, op := range batch {
		m.mu.Lock()
		stale := op.gen != m.gen
		m.mu.Unlock()
		if stale {
			// Queued before the current connection; onConnected has
			// already re-queued whatever is still desired.
			continue
		}

		method := "subscribe"
		if !op.subscribe {
			method = "unsubscribe"
		}

		frame, _ := json.Marshal(command{
			Method: method,
			Subscription: subscription{
				Type: fillChannel,
				User: op.address,
			},
		})

		if err := client.Send(frame); err != nil {
			m.logger.Warn("control frame send failed",
				"address", op.address,
				"method", method,
				"error", err,
			)
			m.mu.Lock()
			if op.subscribe && m.states[op.address] == Subscribing {
				m.states[op.address] = Unsubscribed
			}
			m.mu.Unlock()
			continue
		}

		m.mu.Lock()
		if op.subscribe {
			m.states[op.address] = Subscribed
		} else {
			delete(m.states, op.address)
		}
		m.mu.Unlock()

		if op.subscribe {
			select {
			case m.subscribed <- op.address:
			default:
				m.logger.Warn("subscribed channel full", "address", op.address)
			}
		}

		m.logger.Debug("control frame sent", "address", op.address, "method", method)
	}

	metrics.SubscribedAddresses.Set(float64(m.SubscribedCount()))
}
