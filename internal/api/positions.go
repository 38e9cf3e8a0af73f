package api

import (
	"context"
	"math"
	"strconv"

	"github.com/perpwatch/engine/internal/model"
)

// clearinghouseRequest is the info endpoint payload for a position snapshot.
type clearinghouseRequest struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// clearinghouseState is the snapshot response envelope.
type clearinghouseState struct {
	AssetPositions []assetPosition `json:"assetPositions"`
}

type assetPosition struct {
	Type     string      `json:"type"`
	Position rawPosition `json:"position"`
}

// rawPosition carries the venue's string-encoded numeric fields.
type rawPosition struct {
	Coin          string       `json:"coin"`
	Szi           string       `json:"szi"`
	EntryPx       string       `json:"entryPx"`
	PositionValue string       `json:"positionValue"`
	MarginUsed    string       `json:"marginUsed"`
	Leverage      *rawLeverage `json:"leverage"`
}

type rawLeverage struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// FetchPositions performs a point-in-time request for all open
// positions of one address. An address with zero open positions
// returns an empty slice, not an error. Failures are wrapped in a
// *model.AddressFetchError so callers can skip the address for the
// cycle without aborting anything else.
func (c *Client) FetchPositions(ctx context.Context, address string) ([]model.Position, error) {
	var state clearinghouseState
	req := clearinghouseRequest{Type: "clearinghouseState", User: address}

	if err := c.post(ctx, c.infoURL, req, &state); err != nil {
		return nil, &model.AddressFetchError{Address: address, Op: "fetch positions", Err: err}
	}

	positions := make([]model.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p, ok := ap.Position.toModel()
		if !ok {
			continue
		}
		positions = append(positions, p)
	}

	return positions, nil
}

// toModel converts a raw venue position. Returns false for entries
// with no open size or an unparseable size field.
func (r rawPosition) toModel() (model.Position, bool) {
	size, err := strconv.ParseFloat(r.Szi, 64)
	if err != nil || size == 0 {
		return model.Position{}, false
	}

	p := model.Position{
		Instrument: r.Coin,
		Size:       size,
		ValueUSD:   math.Abs(parseFloatField(r.PositionValue)),
		MarginUsed: math.Abs(parseFloatField(r.MarginUsed)),
		EntryPrice: parseFloatField(r.EntryPx),
	}
	if r.Leverage != nil {
		p.Leverage = r.Leverage.Value
	}

	return p, true
}

// parseFloatField parses a string-encoded float, defaulting to 0.
func parseFloatField(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
