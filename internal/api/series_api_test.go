package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/tscore/internal/models"
	"github.com/tejusbharadwaj/tscore/internal/repository"
	"github.com/tejusbharadwaj/tscore/internal/service"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) SetValues(ctx context.Context, id string, data *models.Series[float64]) (service.Change, error) {
	args := m.Called(ctx, id, data)
	return args.Get(0).(service.Change), args.Error(1)
}

var (
	start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end   = start.Add(time.Hour)
)

func TestFetchData(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		status     int
		wantPoints int
		wantErr    error
	}{
		{
			name:       "object reply",
			body:       `{"result":[{"time":1704067200,"value":1.5},{"time":1704067500,"value":null}]}`,
			status:     http.StatusOK,
			wantPoints: 2,
		},
		{
			name:       "point list reply",
			body:       `[["2024-01-01T00:00:00Z", 1.5], ["2024-01-01T00:05:00Z", 2.5, "estimated"]]`,
			status:     http.StatusOK,
			wantPoints: 2,
		},
		{
			name:   "empty reply",
			body:   `{"result":[]}`,
			status: http.StatusOK,
		},
		{
			name:    "upstream error",
			body:    `oops`,
			status:  http.StatusBadGateway,
			wantErr: ErrFetchStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var query map[string]string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				query = map[string]string{
					"series": r.URL.Query().Get("series"),
					"start":  r.URL.Query().Get("start"),
					"end":    r.URL.Query().Get("end"),
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sink := &mockSink{}
			if tt.wantPoints > 0 {
				sink.On("SetValues", mock.Anything, "rain", mock.MatchedBy(func(s *models.Series[float64]) bool {
					return s.Len() == tt.wantPoints
				})).Return(service.Change{ID: "c-1"}, nil).Once()
			}
			log, _ := test.NewNullLogger()
			fetcher := NewSeriesFetcher(srv.URL, []string{"rain"}, sink, log)

			n, err := fetcher.FetchData(context.Background(), "rain", start, end)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantPoints, n)
			assert.Equal(t, map[string]string{
				"series": "rain",
				"start":  "2024-01-01T00:00:00Z",
				"end":    "2024-01-01T01:00:00Z",
			}, query)
			sink.AssertExpectations(t)
		})
	}
}

func TestDecodeSeries(t *testing.T) {
	s, err := decodeSeries([]byte(`{"result":[{"time":1704067500,"value":null},{"time":1704067200,"value":3}]}`))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	first, _ := s.First()
	assert.Equal(t, start, first.Time, "points are ordered")
	last, _ := s.Last()
	assert.False(t, last.HasValue())

	_, err = decodeSeries([]byte(`[["not a time", 1]]`))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = decodeSeries([]byte(`<html>`))
	assert.Error(t, err)
}

func TestRequestURL(t *testing.T) {
	fetcher := NewSeriesFetcher("http://upstream/series/{id}/values?token=x", nil, nil, nil)
	got, err := fetcher.requestURL("station 1/rain", start, end)
	require.NoError(t, err)
	assert.Equal(t, "http://upstream/series/station%201%2Frain/values?end=2024-01-01T01%3A00%3A00Z&start=2024-01-01T00%3A00%3A00Z&token=x", got)
}

func TestFetchAllContinuesPastFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("series") == "broken" {
			http.Error(w, "no such series", http.StatusNotFound)
			return
		}
		w.Write([]byte(`[["2024-01-01T00:00:00Z", 4]]`))
	}))
	defer srv.Close()

	log, hook := test.NewNullLogger()
	repo := repository.NewMemory(
		models.TimeSeries[float64]{ID: "rain", Name: "rain"},
		models.TimeSeries[float64]{ID: "level", Name: "level"},
	)
	svc, err := service.New[float64](repo, service.Options{Logger: log})
	require.NoError(t, err)

	fetcher := NewSeriesFetcher(srv.URL, []string{"rain", "broken", "level"}, svc, log)
	err = fetcher.FetchAll(context.Background(), start, end)
	assert.ErrorIs(t, err, ErrFetchStatus)

	for _, id := range []string{"rain", "level"} {
		p, ok, err := svc.GetValue(context.Background(), id, start)
		require.NoError(t, err)
		require.True(t, ok, id)
		assert.Equal(t, 4.0, p.Value.V)
	}

	var failures int
	for _, e := range hook.AllEntries() {
		if e.Message == "Failed to fetch data" {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.False(t, errors.Is(err, models.ErrNotFound))
}

func TestBootstrapHistoricalDataChunks(t *testing.T) {
	var windows [][2]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		windows = append(windows, [2]string{r.URL.Query().Get("start"), r.URL.Query().Get("end")})
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	fetcher := NewSeriesFetcher(srv.URL, []string{"rain"}, &mockSink{}, log)
	fetcher.now = func() time.Time { return start.Add(60 * time.Hour) }

	require.NoError(t, fetcher.BootstrapHistoricalData(context.Background(), 60*time.Hour))
	assert.Equal(t, [][2]string{
		{"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"},
		{"2024-01-02T00:00:00Z", "2024-01-03T00:00:00Z"},
		{"2024-01-03T00:00:00Z", "2024-01-03T12:00:00Z"},
	}, windows)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fetcher.BootstrapHistoricalData(ctx, time.Hour), context.Canceled)
}
