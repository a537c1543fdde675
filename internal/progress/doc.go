// Package progress carries harvest run events from the orchestrator to sinks without
// blocking it. The Tracker sink keeps the live counters, rate and ETA served by the API
// and logged during long runs.
package progress
