package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	middleware "github.com/tejusbharadwaj/tscore/internal/grpc/middlewares"
	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/service"
	"github.com/tejusbharadwaj/tscore/internal/timeseries"
)

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	RateLimit      float64       // Requests per second; zero disables limiting
	RateLimitBurst int           // Maximum burst size for rate limiting
	MaxTimeRange   time.Duration // Longest accepted query range

	Logger     *logrus.Logger
	Registerer prometheus.Registerer // Receives the request metrics
	Health     *HealthChecker
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0, // 5 requests per second
		RateLimitBurst: 10,  // Burst of 10 requests
		MaxTimeRange:   DefaultMaxTimeRange,
	}
}

// TimeSeriesService exposes a float64 service over gRPC.
//
// Every request carries the series "id". Timestamps are RFC 3339 strings
// and series travel as lists of [timestamp, value] pairs, with an optional
// third element holding the flag or forecast origin of a point.
type TimeSeriesService struct {
	svc       *service.Service[float64]
	validator *RequestValidator
}

// NewTimeSeriesService creates a new service instance
func NewTimeSeriesService(svc *service.Service[float64], maxTimeRange time.Duration) *TimeSeriesService {
	return &TimeSeriesService{
		svc:       svc,
		validator: NewRequestValidator(maxTimeRange),
	}
}

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// toStatus translates service errors into gRPC status errors.
func toStatus(err error) error {
	switch {
	case models.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, models.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrVetoed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case models.IsInvalid(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Errorf(codes.Internal, "request failed: %v", err)
	}
}

func respond(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func seriesResponse(id string, data *models.Series[float64]) (*structpb.Struct, error) {
	points, err := pointsOf(data)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return respond(map[string]interface{}{"id": id, "data": points})
}

// rangeRequest reads and validates the id, start and end of req.
func (s *TimeSeriesService) rangeRequest(req *structpb.Struct) (id string, start, end time.Time, err error) {
	if id, err = requiredString(req, "id"); err != nil {
		return id, start, end, invalid(err)
	}
	if start, end, err = timeRange(req); err != nil {
		return id, start, end, invalid(err)
	}
	if err = s.validator.ValidateRange(start, end); err != nil {
		return id, start, end, invalid(err)
	}
	return id, start, end, nil
}

// GetValues returns the points of "id" between "start" and "end" as "data".
func (s *TimeSeriesService) GetValues(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, start, end, err := s.rangeRequest(req)
	if err != nil {
		return nil, err
	}
	data, err := s.svc.GetValues(ctx, id, start, end)
	if err != nil {
		return nil, toStatus(err)
	}
	return seriesResponse(id, data)
}

// GetInterpolated resolves "id" at "time". An optional "max_gap" duration
// bounds the distance between the surrounding points. The response holds
// the resolved "point" and whether it was "interpolated".
func (s *TimeSeriesService) GetInterpolated(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredString(req, "id")
	if err != nil {
		return nil, invalid(err)
	}
	t, err := timeField(req, "time")
	if err != nil {
		return nil, invalid(err)
	}
	if t.IsZero() {
		return nil, invalid(fmt.Errorf("missing timestamp"))
	}

	var opts []timeseries.InterpolateOption
	if gap := stringField(req, "max_gap"); gap != "" {
		d, err := time.ParseDuration(gap)
		if err != nil || d < 0 {
			return nil, invalid(fmt.Errorf("invalid max_gap: %s", gap))
		}
		opts = append(opts, timeseries.WithGapTolerance(d))
	}

	p, interpolated, err := s.svc.GetInterpolated(ctx, id, t, opts...)
	if err != nil {
		return nil, toStatus(err)
	}
	point, err := pointOf(p)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return respond(map[string]interface{}{"id": id, "point": point, "interpolated": interpolated})
}

// GetAggregated reduces "id" between "start" and "end" with "aggregation".
// The response "value" is null when the range holds no values.
func (s *TimeSeriesService) GetAggregated(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, start, end, err := s.rangeRequest(req)
	if err != nil {
		return nil, err
	}
	kind, err := s.validator.ValidateAggregation(stringField(req, "aggregation"))
	if err != nil {
		return nil, invalid(err)
	}

	v, err := s.svc.GetAggregated(ctx, id, kind, start, end)
	if err != nil {
		return nil, toStatus(err)
	}
	var value interface{}
	if v.Valid {
		value = v.V
	}
	return respond(map[string]interface{}{"id": id, "aggregation": kind.String(), "value": value})
}

// GetAggregatedByPeriod groups "id" between "start" and "end" by "window"
// and reduces each group with "aggregation".
func (s *TimeSeriesService) GetAggregatedByPeriod(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredString(req, "id")
	if err != nil {
		return nil, invalid(err)
	}
	start, end, err := timeRange(req)
	if err != nil {
		return nil, invalid(err)
	}

	// Validate request
	period, kind, err := s.validator.Validate(start, end, stringField(req, "window"), stringField(req, "aggregation"))
	if err != nil {
		return nil, invalid(err)
	}

	data, err := s.svc.GetAggregatedByPeriod(ctx, id, kind, period, start, end)
	if err != nil {
		return nil, toStatus(err)
	}
	return seriesResponse(id, data)
}

// SetValues merges "data" into "id". The response carries the "change_id"
// and the number of points written.
func (s *TimeSeriesService) SetValues(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredString(req, "id")
	if err != nil {
		return nil, invalid(err)
	}
	data, err := seriesField(req, "data")
	if err != nil {
		return nil, invalid(err)
	}

	c, err := s.svc.SetValues(ctx, id, data)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"id": id, "change_id": c.ID, "count": c.Count})
}

// RemoveValues deletes the points of "id" between "start" and "end".
func (s *TimeSeriesService) RemoveValues(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, start, end, err := s.rangeRequest(req)
	if err != nil {
		return nil, err
	}

	c, err := s.svc.RemoveValues(ctx, id, start, end)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"id": id, "change_id": c.ID})
}

// SetupServer initializes and configures the gRPC server with all middleware
// and registers the time series and health services.
func SetupServer(svc *service.Service[float64], config ServerConfig) (*grpc.Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: service is required", models.ErrInvalidArgument)
	}
	if config.RateLimit < 0 || config.RateLimitBurst < 0 {
		return nil, fmt.Errorf("%w: rate limit must not be negative", models.ErrInvalidArgument)
	}
	if config.RateLimit > 0 && config.RateLimitBurst == 0 {
		return nil, fmt.Errorf("%w: rate limit burst must be positive", models.ErrInvalidArgument)
	}

	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	// Create server with chained interceptors
	server := grpc.NewServer(
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				// Add request ID first
				middleware.ContextMiddleware,
				// Rate limit early
				middleware.NewRateLimitInterceptor(config.RateLimit, config.RateLimitBurst),
				// Log all requests (with request ID)
				middleware.NewLoggingInterceptor(log),
				// Collect metrics
				middleware.NewMetricsInterceptor(reg),
			),
		),
	)

	// Register the time series service
	RegisterTimeSeriesServer(server, NewTimeSeriesService(svc, config.MaxTimeRange))

	health := config.Health
	if health == nil {
		health = NewHealthChecker()
	}
	grpc_health_v1.RegisterHealthServer(server, health)
	health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return server, nil
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}
