package parser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"watchdata/internal/catalog"
	"watchdata/internal/models"
)

// exportLayout is the timestamp form used by Apple Health exports.
const exportLayout = "2006-01-02 15:04:05 -0700"

const invalidRecordMessage = "Record is missing required date or numeric value fields"

// numericPrefix matches the leading decimal number of a value attribute.
var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// NormalizeTimestamp converts "YYYY-MM-DD HH:MM:SS ±HHMM" into a time carrying
// the original offset. ok is false for empty or malformed input. time.Parse
// alone would also take fractional seconds and one-digit hours, so the length
// must match the layout exactly.
func NormalizeTimestamp(raw string) (time.Time, bool) {
	if len(raw) != len(exportLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(exportLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LocalDate returns the calendar date prefix of an export timestamp.
func LocalDate(raw string) (string, bool) {
	if len(raw) < len(models.DateLayout) {
		return "", false
	}
	d := raw[:len(models.DateLayout)]
	if _, err := time.Parse(models.DateLayout, d); err != nil {
		return "", false
	}
	return d, true
}

// parseValue reads the leading decimal number of raw, ignoring leading
// whitespace and any trailing text ("72 bpm" is 72). Non-finite values fail.
func parseValue(raw string) (float64, bool) {
	m := numericPrefix.FindString(strings.TrimLeftFunc(raw, unicode.IsSpace))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// normalizeRecord turns the attributes of a mapped Record element into either
// a record or an invalid_record warning.
func normalizeRecord(attrs map[string]string, metric catalog.Metric) (*models.Record, *models.Warning) {
	startRaw := attrs["startDate"]
	start, okStart := NormalizeTimestamp(startRaw)
	dateLocal, okDate := LocalDate(startRaw)
	value, okValue := parseValue(attrs["value"])

	if !okStart || !okDate || !okValue {
		sample, _ := json.Marshal(attrs)
		return nil, &models.Warning{
			Type:       models.WarningInvalidRecord,
			Message:    invalidRecordMessage,
			MetricType: attrs["type"],
			StartTS:    startRaw,
			RawValue:   attrs["value"],
			SampleJSON: string(sample),
		}
	}

	end, ok := NormalizeTimestamp(attrs["endDate"])
	if !ok {
		end = start
	}
	created, ok := NormalizeTimestamp(attrs["creationDate"])
	if !ok {
		created = start
	}

	rec := &models.Record{
		MetricKey:     metric.Key,
		SourceType:    attrs["type"],
		Value:         value,
		Unit:          attrs["unit"],
		Start:         start,
		End:           end,
		Created:       created,
		DateLocal:     dateLocal,
		SourceName:    attrOr(attrs, "sourceName", "unknown"),
		SourceVersion: attrOr(attrs, "sourceVersion", "unknown"),
		Device:        attrs["device"],
	}
	rec.Fingerprint = Fingerprint(rec)
	return rec, nil
}

func attrOr(attrs map[string]string, key, def string) string {
	if v, ok := attrs[key]; ok {
		return v
	}
	return def
}
