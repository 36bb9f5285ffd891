package server

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tejusbharadwaj/tscore/internal/models"
)

// stringField returns the string field name of req, or "" when absent.
func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func requiredString(req *structpb.Struct, name string) (string, error) {
	v := stringField(req, name)
	if v == "" {
		return "", fmt.Errorf("missing field: %s", name)
	}
	return v, nil
}

// timeField parses an RFC 3339 timestamp field. An absent field is the
// zero time.
func timeField(req *structpb.Struct, name string) (time.Time, error) {
	s := stringField(req, name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %s", name, s)
	}
	return t, nil
}

func timeRange(req *structpb.Struct) (start, end time.Time, err error) {
	if start, err = timeField(req, "start"); err != nil {
		return start, end, err
	}
	end, err = timeField(req, "end")
	return start, end, err
}

// pointsOf converts s to the list form [[timestamp, value, marker?], ...].
func pointsOf(s *models.Series[float64]) ([]interface{}, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var points []interface{}
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func pointOf(p models.DataPoint[float64]) (interface{}, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var point interface{}
	err = json.Unmarshal(raw, &point)
	return point, err
}

// seriesField decodes the list field name into a series.
func seriesField(req *structpb.Struct, name string) (*models.Series[float64], error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return nil, fmt.Errorf("missing field: %s", name)
	}
	raw, err := json.Marshal(v.AsInterface())
	if err != nil {
		return nil, err
	}
	s := &models.Series[float64]{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return s, nil
}
