package middleware

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestIDHeader is the metadata key carrying the request id in both
// directions.
const RequestIDHeader = "x-request-id"

// ContextMiddleware attaches a request id to the context, reusing the one
// sent by the caller when present, and echoes it in the response header.
func ContextMiddleware(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	id := incomingRequestID(ctx)
	if id == "" {
		id = generateRequestID()
	}
	ctx = context.WithValue(ctx, requestIDKey, id)
	// fails outside a real transport stream, e.g. when called directly in tests
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
	return handler(ctx, req)
}

// RequestID returns the id attached by ContextMiddleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(RequestIDHeader); len(values) > 0 {
		return values[0]
	}
	return ""
}

func generateRequestID() string {
	return uuid.NewString()
}
