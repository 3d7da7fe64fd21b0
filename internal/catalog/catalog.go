// Package catalog is the static registry of tracked metrics.
package catalog

import (
	"fmt"
	"strconv"

	"watchdata/internal/models"
)

// Aggregate is the rule used to reduce a day of samples to one value.
type Aggregate string

const (
	AggregateSum  Aggregate = "sum"
	AggregateMean Aggregate = "mean"
	AggregateLast Aggregate = "last"
)

func (a Aggregate) valid() bool {
	return a == AggregateSum || a == AggregateMean || a == AggregateLast
}

// Metric describes one tracked metric.
type Metric struct {
	Key         string    `json:"key"`
	SourceType  string    `json:"sourceType"`
	Label       string    `json:"label"`
	DisplayUnit string    `json:"unit"`
	Aggregate   Aggregate `json:"aggregate"`
	Precision   int       `json:"precision"`
}

// Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	metrics  []Metric
	byKey    map[string]int
	bySource map[string]int
}

// New builds a catalog, rejecting duplicate keys or source types.
func New(metrics ...Metric) (*Catalog, error) {
	c := &Catalog{
		metrics:  make([]Metric, 0, len(metrics)),
		byKey:    make(map[string]int, len(metrics)),
		bySource: make(map[string]int, len(metrics)),
	}
	for _, m := range metrics {
		if m.Key == "" || m.SourceType == "" {
			return nil, fmt.Errorf("metric %q: key and source type are required", m.Key)
		}
		if !m.Aggregate.valid() {
			return nil, fmt.Errorf("metric %q: unknown aggregate %q", m.Key, m.Aggregate)
		}
		if _, dup := c.byKey[m.Key]; dup {
			return nil, fmt.Errorf("metric %q: duplicate key", m.Key)
		}
		if _, dup := c.bySource[m.SourceType]; dup {
			return nil, fmt.Errorf("metric %q: duplicate source type %q", m.Key, m.SourceType)
		}
		c.byKey[m.Key] = len(c.metrics)
		c.bySource[m.SourceType] = len(c.metrics)
		c.metrics = append(c.metrics, m)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(
		Metric{Key: "weight", SourceType: "HKQuantityTypeIdentifierBodyMass", Label: "Weight", DisplayUnit: "lb", Aggregate: AggregateLast, Precision: 1},
		Metric{Key: "steps", SourceType: "HKQuantityTypeIdentifierStepCount", Label: "Steps", DisplayUnit: "steps", Aggregate: AggregateSum},
		Metric{Key: "resting_hr", SourceType: "HKQuantityTypeIdentifierRestingHeartRate", Label: "Resting HR", DisplayUnit: "bpm", Aggregate: AggregateMean, Precision: 1},
		Metric{Key: "walking_hr", SourceType: "HKQuantityTypeIdentifierWalkingHeartRateAverage", Label: "Walking HR", DisplayUnit: "bpm", Aggregate: AggregateMean, Precision: 1},
		Metric{Key: "exercise_minutes", SourceType: "HKQuantityTypeIdentifierAppleExerciseTime", Label: "Exercise Minutes", DisplayUnit: "min", Aggregate: AggregateSum},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// BySourceType returns the metric mapped to a raw record type.
func (c *Catalog) BySourceType(sourceType string) (Metric, bool) {
	i, ok := c.bySource[sourceType]
	if !ok {
		return Metric{}, false
	}
	return c.metrics[i], true
}

// Lookup returns the metric with the given key or models.ErrUnknownMetric.
func (c *Catalog) Lookup(key string) (Metric, error) {
	i, ok := c.byKey[key]
	if !ok {
		return Metric{}, fmt.Errorf("%w: %s", models.ErrUnknownMetric, key)
	}
	return c.metrics[i], nil
}

// Keys returns metric keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.metrics))
	for i, m := range c.metrics {
		keys[i] = m.Key
	}
	return keys
}

// Metrics returns a copy of the catalog entries.
func (c *Catalog) Metrics() []Metric {
	out := make([]Metric, len(c.metrics))
	copy(out, c.metrics)
	return out
}

// Format renders a value with the metric's precision and display unit.
func (m Metric) Format(v float64) string {
	return strconv.FormatFloat(v, 'f', m.Precision, 64) + " " + m.DisplayUnit
}
