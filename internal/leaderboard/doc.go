// Package leaderboard implements the Leaderboard Registry component.
//
// The registry:
//   - Fetches the external trader ranking on demand
//   - Normalizes heterogeneous payload shapes into a flat address set
//   - Diffs each refresh against the previous target set
//   - Retains the previous set when the source is unavailable
package leaderboard
