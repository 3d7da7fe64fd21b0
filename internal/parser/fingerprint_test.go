package parser

import (
	"regexp"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdata/internal/models"
)

func baseRecord() *models.Record {
	start, _ := NormalizeTimestamp("2024-01-01 08:00:00 -0800")
	return &models.Record{
		SourceType:    "HKQuantityTypeIdentifierStepCount",
		Start:         start,
		End:           start.Add(10 * time.Minute),
		Value:         3000,
		Unit:          "count",
		SourceName:    "Watch",
		SourceVersion: "10.1",
	}
}

func TestFingerprint_Shape(t *testing.T) {
	fp := Fingerprint(baseRecord())
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), fp)
	assert.Equal(t, fp, Fingerprint(baseRecord()))
}

func TestFingerprint_IgnoresNonIdentityFields(t *testing.T) {
	a := baseRecord()
	b := baseRecord()
	b.Device = "<<HKDevice: Apple Watch>>"
	b.Created = b.Start.Add(time.Hour)
	b.MetricKey = "other"
	b.DateLocal = "2030-01-01"
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_SensitiveToEachField(t *testing.T) {
	base := Fingerprint(baseRecord())
	mutations := map[string]func(r *models.Record){
		"source type":    func(r *models.Record) { r.SourceType = "HKQuantityTypeIdentifierAppleExerciseTime" },
		"start":          func(r *models.Record) { r.Start = r.Start.Add(time.Second) },
		"end":            func(r *models.Record) { r.End = r.End.Add(time.Second) },
		"value":          func(r *models.Record) { r.Value = 3000.5 },
		"unit":           func(r *models.Record) { r.Unit = "steps" },
		"source name":    func(r *models.Record) { r.SourceName = "iPhone" },
		"source version": func(r *models.Record) { r.SourceVersion = "17.0" },
		"offset": func(r *models.Record) {
			r.Start = r.Start.In(time.FixedZone("", -7*3600))
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := baseRecord()
			mutate(r)
			assert.NotEqual(t, base, Fingerprint(r))
		})
	}
}

func TestFingerprint_ValueRendering(t *testing.T) {
	r := baseRecord()
	r.Value = 181
	whole := Fingerprint(r)
	r.Value = 181.0
	assert.Equal(t, whole, Fingerprint(r))
}

func TestFingerprint_Deterministic(t *testing.T) {
	f := func(sourceType, unit, name, version string, value float64, offsetSec int32, unix int32) bool {
		start := time.Unix(int64(unix), 0).In(time.FixedZone("", int(offsetSec%50400)/60*60))
		mk := func() *models.Record {
			return &models.Record{
				SourceType:    sourceType,
				Start:         start,
				End:           start,
				Value:         value,
				Unit:          unit,
				SourceName:    name,
				SourceVersion: version,
			}
		}
		return Fingerprint(mk()) == Fingerprint(mk())
	}
	require.NoError(t, quick.Check(f, nil))
}
