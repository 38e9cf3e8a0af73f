package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/perpwatch/engine/internal/model"
)

// Container keys tried first when the ranking payload is a nested
// object. Scanning all array-valued fields in sorted key order is the
// fallback, so behavior stays deterministic for unknown shapes.
var containerKeys = []string{"leaderboardRows", "rows", "traders", "leaderboard", "data"}

// Address property candidates, in priority order.
var addressKeys = []string{"ethAddress", "address", "user", "trader", "accountAddress"}

// FetchLeaderboard fetches the trader ranking and returns up to limit
// addresses in ranking order. Returns model.ErrSourceUnavailable when
// the endpoint cannot be reached or no address list can be located.
func (c *Client) FetchLeaderboard(ctx context.Context, limit int) ([]string, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, c.leaderboardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}

	addrs, err := ParseLeaderboard(body, limit)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("leaderboard fetched", "addresses", len(addrs))
	return addrs, nil
}

// ParseLeaderboard extracts up to limit addresses from a ranking
// payload of unspecified shape. Accepted shapes:
//   - a flat array of entries (objects with an address property, or
//     bare address strings)
//   - an object containing such an array under some field
//
// Returns model.ErrSourceUnavailable when no address-bearing array is
// found.
func ParseLeaderboard(data []byte, limit int) ([]string, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse ranking payload: %v", model.ErrSourceUnavailable, err)
	}

	switch v := payload.(type) {
	case []any:
		if addrs := addressesFromArray(v, limit); len(addrs) > 0 {
			return addrs, nil
		}

	case map[string]any:
		// Known container keys first, in priority order.
		for _, key := range containerKeys {
			arr, ok := v[key].([]any)
			if !ok {
				continue
			}
			if addrs := addressesFromArray(arr, limit); len(addrs) > 0 {
				return addrs, nil
			}
		}

		// Fall back to any array-valued field, in sorted key order.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			arr, ok := v[k].([]any)
			if !ok {
				continue
			}
			if addrs := addressesFromArray(arr, limit); len(addrs) > 0 {
				return addrs, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: no address list in ranking payload", model.ErrSourceUnavailable)
}

// addressesFromArray extracts addresses from one candidate array.
// Returns nil if the elements do not expose an address-like property.
func addressesFromArray(arr []any, limit int) []string {
	addrs := make([]string, 0, len(arr))
	seen := make(map[string]struct{}, len(arr))

	for _, el := range arr {
		var addr string

		switch e := el.(type) {
		case string:
			addr = e
		case map[string]any:
			for _, key := range addressKeys {
				if s, ok := e[key].(string); ok && s != "" {
					addr = s
					break
				}
			}
		}

		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)

		if limit > 0 && len(addrs) >= limit {
			break
		}
	}

	return addrs
}
