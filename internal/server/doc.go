// Package server provides the HTTP control and monitoring surface:
// start/stop and status for the capture pipeline, statistics, Prometheus
// metrics and, when enabled, the websocket processing bridge.
package server
