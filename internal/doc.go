// Package tscore implements a generic time series store and query service.
//
// # Architecture
//
// The service is structured into several key packages:
//   - models: Points, ordered series, metadata and error values
//   - timeseries: Interpolation, aggregation, periods and ensembles
//   - repository: Capability interfaces and the in-memory store
//   - database: TimescaleDB, Badger and S3 storage backends
//   - service: Validated access, change events, caching and metrics
//   - events: NATS and MQTT change publishers
//   - grpc: gRPC service implementation, middleware and health checks
//   - api: External API client for data ingestion
//   - scheduler: Background ingestion, retention and maintenance
//   - config: YAML configuration with environment overrides
//
// Key Features
//
//   - Point Variants:
//     A point may carry a flag or the origin of the forecast it belongs
//     to. Every backend round-trips both.
//
//   - Time Series Operations:
//     Linear interpolation with an optional gap tolerance and MIN, MAX,
//     AVG and SUM aggregation over ranges, fixed windows (1m, 5m, 1h, 1d)
//     and calendar periods (monthly, quarterly, yearly).
//
//   - Performance:
//     TimescaleDB executes aggregation and time_bucket grouping in SQL and
//     aggregation results are cached until the series changes.
//
// Example Usage
//
//	client := server.NewClient(conn)
//	resp, err := client.Call(ctx, "GetAggregatedByPeriod", map[string]interface{}{
//	    "id":          "rain",
//	    "start":       "2024-01-01T00:00:00Z",
//	    "end":         "2024-02-01T00:00:00Z",
//	    "window":      "1d",
//	    "aggregation": "SUM",
//	})
//
// For more information about specific packages, see their respective
// documentation.
package tscore
