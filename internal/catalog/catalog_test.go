package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdata/internal/models"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{"weight", "steps", "resting_hr", "walking_hr", "exercise_minutes"}, c.Keys())

	m, ok := c.BySourceType("HKQuantityTypeIdentifierStepCount")
	require.True(t, ok)
	assert.Equal(t, "steps", m.Key)
	assert.Equal(t, AggregateSum, m.Aggregate)

	_, ok = c.BySourceType("HKQuantityTypeIdentifierHeartRate")
	assert.False(t, ok)

	w, err := c.Lookup("weight")
	require.NoError(t, err)
	assert.Equal(t, AggregateLast, w.Aggregate)
	assert.Equal(t, "181.0 lb", w.Format(181))
}

func TestLookupUnknown(t *testing.T) {
	_, err := Default().Lookup("vo2max")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUnknownMetric))
}

func TestNewRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		metrics []Metric
	}{
		{"duplicate key", []Metric{
			{Key: "a", SourceType: "A", Aggregate: AggregateSum},
			{Key: "a", SourceType: "B", Aggregate: AggregateSum},
		}},
		{"duplicate source", []Metric{
			{Key: "a", SourceType: "A", Aggregate: AggregateSum},
			{Key: "b", SourceType: "A", Aggregate: AggregateSum},
		}},
		{"bad aggregate", []Metric{{Key: "a", SourceType: "A", Aggregate: "median"}}},
		{"missing source", []Metric{{Key: "a", Aggregate: AggregateSum}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.metrics...)
			assert.Error(t, err)
		})
	}
}

func TestMetricsReturnsCopy(t *testing.T) {
	c := Default()
	ms := c.Metrics()
	ms[0].Key = "mutated"
	assert.Equal(t, "weight", c.Metrics()[0].Key)
}
