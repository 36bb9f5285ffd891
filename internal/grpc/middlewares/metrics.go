package middleware

import (
	"context"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// NewMetricsInterceptor registers request counters and latency histograms
// on reg and records every request in them.
func NewMetricsInterceptor(reg prometheus.Registerer) grpc.UnaryServerInterceptor {
	factory := promauto.With(reg)
	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tscore",
		Subsystem: "grpc",
		Name:      "requests_total",
		Help:      "Handled gRPC requests by method and status code.",
	}, []string{"method", "code"})
	latency := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tscore",
		Subsystem: "grpc",
		Name:      "request_duration_seconds",
		Help:      "gRPC request latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		// Record metrics
		duration := time.Since(start).Seconds()
		method := path.Base(info.FullMethod)

		requests.WithLabelValues(method, status.Code(err).String()).Inc()
		latency.WithLabelValues(method).Observe(duration)

		return resp, err
	}
}
