package model

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable indicates the leaderboard source could not be
// reached or returned no parseable address list. The previous target
// set is retained when this is returned.
var ErrSourceUnavailable = errors.New("leaderboard source unavailable")

// AddressFetchError wraps a failed position snapshot fetch for one
// address. Non-fatal: the address is skipped for the cycle and no
// state changes.
type AddressFetchError struct {
	Address string
	Op      string
	Err     error
}

func (e *AddressFetchError) Error() string {
	return fmt.Sprintf("%s for %s: %v", e.Op, e.Address, e.Err)
}

func (e *AddressFetchError) Unwrap() error {
	return e.Err
}
