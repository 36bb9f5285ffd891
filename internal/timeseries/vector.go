package timeseries

import (
	"github.com/tejusbharadwaj/tscore/internal/models"
)

// CombineVectors builds a vector series from its x and y component series.
// Only timestamps present in both components appear in the result; the
// vector is null when either component is null.
func CombineVectors(x, y *models.Series[float64]) *models.Series[models.Vector] {
	out := &models.Series[models.Vector]{}
	for px := range x.All() {
		py, ok := y.Get(px.Time)
		if !ok {
			continue
		}
		if !px.HasValue() || !py.HasValue() {
			out.Append(models.NullDataPoint[models.Vector](px.Time))
			continue
		}
		out.Append(models.NewDataPoint(px.Time, models.Vector{X: px.Value.V, Y: py.Value.V}))
	}
	return out
}

// Components splits a vector series into its x and y component series.
func Components(v *models.Series[models.Vector]) (x, y *models.Series[float64]) {
	x, y = &models.Series[float64]{}, &models.Series[float64]{}
	for p := range v.All() {
		if !p.HasValue() {
			x.Append(models.NullDataPoint[float64](p.Time))
			y.Append(models.NullDataPoint[float64](p.Time))
			continue
		}
		x.Append(models.NewDataPoint(p.Time, p.Value.V.X))
		y.Append(models.NewDataPoint(p.Time, p.Value.V.Y))
	}
	return x, y
}
