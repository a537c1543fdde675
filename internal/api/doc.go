// Package api exposes the status surface of a running harvest: health probes, Prometheus
// metrics, the live progress snapshot and the stored checkpoint summary.
package api
