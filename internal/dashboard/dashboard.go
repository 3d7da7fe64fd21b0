// Package dashboard serves read models over the daily aggregates: period
// totals with comparison to the previous period, and per-day series with a
// rolling average.
package dashboard

import (
	"context"

	"watchdata/internal/catalog"
	"watchdata/internal/storage"
)

// DefaultWindow is the rolling average window in days.
const DefaultWindow = 7

// Reader is the storage the dashboard reads from.
type Reader interface {
	DailyMetrics(ctx context.Context, metricKey, from, to string) ([]storage.DailyMetric, error)
	PeriodValue(ctx context.Context, m catalog.Metric, from, to string) (*float64, error)
}

// OverviewMetric is the period summary of one metric.
type OverviewMetric struct {
	Metric       string   `json:"metric"`
	Label        string   `json:"label"`
	Unit         string   `json:"unit"`
	CurrentValue *float64 `json:"currentValue"`
	CompareValue *float64 `json:"compareValue"`
	Delta        Delta    `json:"delta"`
}

// Overview summarizes every catalog metric over a range.
type Overview struct {
	Range
	Compare bool             `json:"compare"`
	Metrics []OverviewMetric `json:"metrics"`
}

// Point is one date of a series. Value is nil when the day has no data.
type Point struct {
	Date       string   `json:"date"`
	Value      *float64 `json:"value"`
	RollingAvg *float64 `json:"rollingAvg"`
}

// Series is the daily view of one metric.
type Series struct {
	Metric        string  `json:"metric"`
	Unit          string  `json:"unit"`
	Series        []Point `json:"series"`
	CompareSeries []Point `json:"compareSeries,omitempty"`
	Delta         *Delta  `json:"delta,omitempty"`
}

// Service answers dashboard queries.
type Service struct {
	reader  Reader
	catalog *catalog.Catalog
	window  int
}

// New creates a Service. window is the default rolling window; values below
// one select DefaultWindow.
func New(reader Reader, cat *catalog.Catalog, window int) *Service {
	if window < 1 {
		window = DefaultWindow
	}
	return &Service{reader: reader, catalog: cat, window: window}
}

// Window returns the default rolling window.
func (s *Service) Window() int {
	return s.window
}

// Overview returns the period value of every metric, in catalog order.
func (s *Service) Overview(ctx context.Context, r Range, compare bool) (*Overview, error) {
	out := &Overview{Range: r, Compare: compare, Metrics: make([]OverviewMetric, 0, len(s.catalog.Keys()))}

	for _, m := range s.catalog.Metrics() {
		current, err := s.reader.PeriodValue(ctx, m, r.From, r.To)
		if err != nil {
			return nil, err
		}

		var previous *float64
		if compare {
			prev := r.Previous()
			if previous, err = s.reader.PeriodValue(ctx, m, prev.From, prev.To); err != nil {
				return nil, err
			}
		}

		out.Metrics = append(out.Metrics, OverviewMetric{
			Metric:       m.Key,
			Label:        m.Label,
			Unit:         m.DisplayUnit,
			CurrentValue: current,
			CompareValue: previous,
			Delta:        Compare(current, previous),
		})
	}
	return out, nil
}

// Series returns one point per date of r for metricKey. A window below one
// uses the service default. Unknown keys return models.ErrUnknownMetric.
func (s *Service) Series(ctx context.Context, metricKey string, r Range, compare bool, window int) (*Series, error) {
	m, err := s.catalog.Lookup(metricKey)
	if err != nil {
		return nil, err
	}
	if window < 1 {
		window = s.window
	}

	points, err := s.points(ctx, m.Key, r, window)
	if err != nil {
		return nil, err
	}
	out := &Series{Metric: m.Key, Unit: m.DisplayUnit, Series: points}

	current, err := s.reader.PeriodValue(ctx, m, r.From, r.To)
	if err != nil {
		return nil, err
	}

	var previous *float64
	if compare {
		prev := r.Previous()
		if out.CompareSeries, err = s.points(ctx, m.Key, prev, window); err != nil {
			return nil, err
		}
		if previous, err = s.reader.PeriodValue(ctx, m, prev.From, prev.To); err != nil {
			return nil, err
		}
	}

	d := Compare(current, previous)
	out.Delta = &d
	return out, nil
}

func (s *Service) points(ctx context.Context, key string, r Range, window int) ([]Point, error) {
	rows, err := s.reader.DailyMetrics(ctx, key, r.From, r.To)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]float64, len(rows))
	for _, row := range rows {
		byDate[row.Date] = row.Value
	}

	dates := r.Dates()
	values := make([]*float64, len(dates))
	for i, d := range dates {
		if v, ok := byDate[d]; ok {
			values[i] = &v
		}
	}
	rolling := RollingAverage(values, window)

	points := make([]Point, len(dates))
	for i, d := range dates {
		points[i] = Point{Date: d, Value: values[i], RollingAvg: rolling[i]}
	}
	return points, nil
}
