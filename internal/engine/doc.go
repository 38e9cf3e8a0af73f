// Package engine orchestrates the monitoring pipeline: leaderboard
// refreshes drive the subscription set, inbound fills trigger position
// snapshot refetches, and before/after diffs feed the qualification
// detector. Alerts that survive dedup are handed to the configured
// emit callback.
package engine
