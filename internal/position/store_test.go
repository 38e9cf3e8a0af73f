package position

import (
	"testing"

	"github.com/perpwatch/engine/internal/model"
)

func TestStore_SeedProducesNoChanges(t *testing.T) {
	s := NewStore(nil)

	s.Seed("0xabc", []model.Position{
		{Instrument: "BTC", Size: 1, ValueUSD: 60000},
	})

	p, ok := s.Get("0xabc", "BTC")
	if !ok {
		t.Fatal("position not found after seed")
	}
	if p.ValueUSD != 60000 {
		t.Errorf("ValueUSD = %v, want 60000", p.ValueUSD)
	}
}

func TestStore_Apply_NewPosition(t *testing.T) {
	s := NewStore(nil)

	changes := s.Apply("0xabc", []model.Position{
		{Instrument: "BTC", Size: 2, ValueUSD: 120000},
	})

	if len(changes) != 1 {
		t.Fatalf("len(changes) = %d, want 1", len(changes))
	}

	c := changes[0]
	if c.Previous != nil {
		t.Error("Previous should be nil for a new position")
	}
	if c.Current == nil || c.Current.ValueUSD != 120000 {
		t.Errorf("Current = %+v, want value 120000", c.Current)
	}
}

func TestStore_Apply_ClosedPosition(t *testing.T) {
	s := NewStore(nil)

	s.Seed("0xabc", []model.Position{
		{Instrument: "ETH", Size: 10, ValueUSD: 30000},
	})

	changes := s.Apply("0xabc", nil)

	if len(changes) != 1 {
		t.Fatalf("len(changes) = %d, want 1", len(changes))
	}
	if changes[0].Previous == nil {
		t.Error("Previous should carry the closed position")
	}
	if changes[0].Current != nil {
		t.Error("Current should be nil after close")
	}

	if _, ok := s.Get("0xabc", "ETH"); ok {
		t.Error("closed position should be gone from the table")
	}
}

func TestStore_Apply_UnionOfInstruments(t *testing.T) {
	s := NewStore(nil)

	s.Seed("0xabc", []model.Position{
		{Instrument: "BTC", Size: 1, ValueUSD: 60000},
		{Instrument: "ETH", Size: 5, ValueUSD: 15000},
	})

	changes := s.Apply("0xabc", []model.Position{
		{Instrument: "BTC", Size: 1.5, ValueUSD: 90000},
		{Instrument: "SOL", Size: 100, ValueUSD: 20000},
	})

	// Union: BTC (changed), ETH (closed), SOL (opened), sorted.
	if len(changes) != 3 {
		t.Fatalf("len(changes) = %d, want 3", len(changes))
	}

	want := []string{"BTC", "ETH", "SOL"}
	for i, sym := range want {
		if changes[i].Instrument != sym {
			t.Errorf("changes[%d].Instrument = %q, want %q", i, changes[i].Instrument, sym)
		}
	}

	if changes[0].Previous == nil || changes[0].Current == nil {
		t.Error("BTC change should have both previous and current")
	}
	if changes[1].Current != nil {
		t.Error("ETH change should have nil current")
	}
	if changes[2].Previous != nil {
		t.Error("SOL change should have nil previous")
	}
}

func TestStore_Drop(t *testing.T) {
	s := NewStore(nil)

	s.Seed("0xabc", []model.Position{{Instrument: "BTC", Size: 1}})
	s.Drop("0xabc")

	if _, ok := s.Get("0xabc", "BTC"); ok {
		t.Error("position should be gone after Drop")
	}
	if s.AddressCount() != 0 {
		t.Errorf("AddressCount() = %d, want 0", s.AddressCount())
	}
}

func TestStore_AddressesIndependent(t *testing.T) {
	s := NewStore(nil)

	s.Seed("0xaaa", []model.Position{{Instrument: "BTC", Size: 1}})
	s.Seed("0xbbb", []model.Position{{Instrument: "BTC", Size: -2}})

	s.Drop("0xaaa")

	if _, ok := s.Get("0xbbb", "BTC"); !ok {
		t.Error("dropping one address must not affect another")
	}
}
