// Package metric provides Prometheus-based metrics collection and an
// HTTP server for spinemlnet monitoring and observability.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (connection lifecycle, handshake outcomes, frame
// throughput, NATS health) and component-specific metrics registered by
// name. It includes an HTTP server exposing metrics in Prometheus
// format.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
// Components register their own collectors through the MetricsRegistrar
// interface; duplicate registrations are rejected with a classified
// error rather than a panic.
package metric
