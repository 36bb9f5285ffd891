// Package api pulls observations from an upstream HTTP source into the
// service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/service"
)

// APIResponse is the object form of an upstream reply. Upstreams may
// instead answer with the point list form [[timestamp, value], ...].
type APIResponse struct {
	Result []struct {
		Time  int64    `json:"time"`
		Value *float64 `json:"value"`
	} `json:"result"`
}

var (
	ErrFetchRequest = errors.New("error making fetch request")
	ErrFetchStatus  = errors.New("error status from upstream")
)

// Sink receives fetched points; *service.Service[float64] implements it.
type Sink interface {
	SetValues(ctx context.Context, id string, data *models.Series[float64]) (service.Change, error)
}

// SeriesFetcher requests apiURL once per series id. A "{id}" placeholder in
// apiURL is replaced by the id; otherwise the id is sent as the "series"
// query parameter.
type SeriesFetcher struct {
	apiURL  string
	ids     []string
	sink    Sink
	client  *http.Client
	timeout time.Duration
	chunk   time.Duration
	now     func() time.Time
	logger  *logrus.Logger
}

// DefaultBootstrapChunk is the span of each request made while
// bootstrapping historical data.
const DefaultBootstrapChunk = 24 * time.Hour

func NewSeriesFetcher(apiURL string, ids []string, sink Sink, logger *logrus.Logger) *SeriesFetcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SeriesFetcher{
		apiURL:  apiURL,
		ids:     ids,
		sink:    sink,
		client:  http.DefaultClient,
		timeout: 30 * time.Second,
		chunk:   DefaultBootstrapChunk,
		now:     time.Now,
		logger:  logger,
	}
}

// WithHTTPClient replaces the default HTTP client.
func (f *SeriesFetcher) WithHTTPClient(client *http.Client) *SeriesFetcher {
	f.client = client
	return f
}

func (f *SeriesFetcher) requestURL(id string, start, end time.Time) (string, error) {
	raw := f.apiURL
	templated := strings.Contains(raw, "{id}")
	if templated {
		raw = strings.ReplaceAll(raw, "{id}", url.PathEscape(id))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if !templated {
		q.Set("series", id)
	}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchData pulls the points of id between start and end and writes them
// through the sink. An empty reply writes nothing.
func (f *SeriesFetcher) FetchData(ctx context.Context, id string, start, end time.Time) (int, error) {
	target, err := f.requestURL(id, start, end)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetchRequest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetchRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetchRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: got %d", ErrFetchStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	data, err := decodeSeries(body)
	if err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	if data.IsEmpty() {
		return 0, nil
	}

	if _, err := f.sink.SetValues(ctx, id, data); err != nil {
		return 0, fmt.Errorf("failed to store data points of %s: %w", id, err)
	}
	return data.Len(), nil
}

// decodeSeries accepts both the point list and the object reply.
func decodeSeries(body []byte) (*models.Series[float64], error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		s := &models.Series[float64]{}
		if err := json.Unmarshal(body, s); err != nil {
			return nil, err
		}
		return s, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, err
	}
	s := &models.Series[float64]{}
	for _, r := range apiResp.Result {
		t := time.Unix(r.Time, 0).UTC()
		if r.Value == nil {
			s.Insert(models.NullDataPoint[float64](t))
			continue
		}
		s.Insert(models.NewDataPoint(t, *r.Value))
	}
	return s, nil
}

// FetchAll fetches every configured series. A failing series does not stop
// the others; all failures are returned joined.
func (f *SeriesFetcher) FetchAll(ctx context.Context, start, end time.Time) error {
	var errs []error
	for _, id := range f.ids {
		n, err := f.FetchData(ctx, id, start, end)
		if err != nil {
			f.logger.WithError(err).WithField("id", id).Error("Failed to fetch data")
			errs = append(errs, err)
			continue
		}
		f.logger.WithFields(logrus.Fields{"id": id, "points": n}).Debug("fetched data")
	}
	return errors.Join(errs...)
}

// BootstrapHistoricalData fetches the lookback period up to now for every
// series, one DefaultBootstrapChunk at a time. Chunks that fail are logged
// and skipped; the joined failures are returned at the end.
func (f *SeriesFetcher) BootstrapHistoricalData(ctx context.Context, lookback time.Duration) error {
	endTime := f.now().UTC()
	startTime := endTime.Add(-lookback)

	var errs []error
	for from := startTime; from.Before(endTime); from = from.Add(f.chunk) {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := from.Add(f.chunk)
		if to.After(endTime) {
			to = endTime
		}
		if err := f.FetchAll(ctx, from, to); err != nil {
			errs = append(errs, err)
		}
	}

	f.logger.WithFields(logrus.Fields{
		"start":  startTime,
		"end":    endTime,
		"failed": len(errs),
	}).Info("Historical bootstrap finished")
	return errors.Join(errs...)
}
