// Package api provides the venue REST client used by the monitor.
//
// Two endpoints are consumed:
//   - the info endpoint (POST): point-in-time position snapshots per address
//   - the leaderboard endpoint (GET): the external trader ranking
//
// The leaderboard payload shape is not guaranteed; parsing uses ordered
// fallback rules rather than a fixed schema.
package api
