package position

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/perpwatch/engine/internal/model"
)

// Change is one instrument's before/after state for an address.
// A nil Previous means no position existed; a nil Current means the
// position is gone from the fresh snapshot.
type Change struct {
	Address    string
	Instrument string
	Previous   *model.Position
	Current    *model.Position
}

// Store maps addresses to their instrument position tables.
type Store struct {
	logger *slog.Logger

	mu     sync.RWMutex // guards the tables map, not table contents
	tables map[string]*table
}

// table holds one address's positions keyed by instrument symbol.
type table struct {
	mu        sync.Mutex
	positions map[string]model.Position
}

// NewStore creates an empty position state store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger,
		tables: make(map[string]*table),
	}
}

// entry returns the table for an address, creating it if needed.
func (s *Store) entry(address string) *table {
	s.mu.RLock()
	t, ok := s.tables[address]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.tables[address]; ok {
		return t
	}
	t = &table{positions: make(map[string]model.Position)}
	s.tables[address] = t
	return t
}

// Seed replaces an address's table with a fresh snapshot without
// reporting changes. Used when a subscription is first established:
// pre-existing positions become the baseline, they are not events.
func (s *Store) Seed(address string, fresh []model.Position) {
	t := s.entry(address)

	t.mu.Lock()
	t.positions = make(map[string]model.Position, len(fresh))
	for _, p := range fresh {
		t.positions[p.Instrument] = p
	}
	t.mu.Unlock()

	s.logger.Debug("position state seeded", "address", address, "positions", len(fresh))
}

// Apply replaces an address's table with a fresh snapshot and returns
// one Change per instrument present in either the old or new state,
// sorted by instrument.
func (s *Store) Apply(address string, fresh []model.Position) []Change {
	t := s.entry(address)

	next := make(map[string]model.Position, len(fresh))
	for _, p := range fresh {
		next[p.Instrument] = p
	}

	t.mu.Lock()
	prev := t.positions
	t.positions = next

	instruments := make(map[string]struct{}, len(prev)+len(next))
	for sym := range prev {
		instruments[sym] = struct{}{}
	}
	for sym := range next {
		instruments[sym] = struct{}{}
	}

	changes := make([]Change, 0, len(instruments))
	for sym := range instruments {
		c := Change{Address: address, Instrument: sym}
		if p, ok := prev[sym]; ok {
			cp := p
			c.Previous = &cp
		}
		if p, ok := next[sym]; ok {
			cp := p
			c.Current = &cp
		}
		changes = append(changes, c)
	}
	t.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Instrument < changes[j].Instrument
	})

	return changes
}

// Drop discards all stored state for an address.
func (s *Store) Drop(address string) {
	s.mu.Lock()
	delete(s.tables, address)
	s.mu.Unlock()

	s.logger.Debug("position state dropped", "address", address)
}

// Get returns one stored position.
func (s *Store) Get(address, instrument string) (model.Position, bool) {
	s.mu.RLock()
	t, ok := s.tables[address]
	s.mu.RUnlock()
	if !ok {
		return model.Position{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[instrument]
	return p, ok
}

// AddressCount returns the number of addresses with a table.
func (s *Store) AddressCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}
