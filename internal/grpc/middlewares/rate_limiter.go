package middleware

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewRateLimitInterceptor admits limit requests per second with bursts of
// burst. Each interceptor owns its limiter; a non-positive limit disables
// limiting.
func NewRateLimitInterceptor(limit float64, burst int) grpc.UnaryServerInterceptor {
	l := rate.Limit(limit)
	if limit <= 0 {
		l = rate.Inf
	}
	limiter := rate.NewLimiter(l, burst)

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !limiter.Allow() {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
