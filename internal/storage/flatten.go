package storage

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/marcboeker/go-duckdb"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
)

// toKeyValues converts event attributes to OTLP key/values, sorted by key.
// Unsupported value types are rendered with fmt.
func toKeyValues(attrs map[string]any) []*commonv1.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]*commonv1.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, &commonv1.KeyValue{Key: k, Value: toAnyValue(attrs[k])})
	}
	return kvs
}

func toAnyValue(v any) *commonv1.AnyValue {
	switch val := v.(type) {
	case string:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: val}}
	case bool:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_BoolValue{BoolValue: val}}
	case int:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: int64(val)}}
	case int64:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: val}}
	case float64:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_DoubleValue{DoubleValue: val}}
	case *float64:
		if val == nil {
			return &commonv1.AnyValue{}
		}
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_DoubleValue{DoubleValue: *val}}
	case time.Time:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: val.UTC().Format(time.RFC3339)}}
	case nil:
		return &commonv1.AnyValue{}
	default:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: fmt.Sprint(val)}}
	}
}

// flattenAttributes converts OTLP KeyValue slice to a DuckDB Map.
func flattenAttributes(kvs []*commonv1.KeyValue) duckdb.Map {
	if len(kvs) == 0 {
		return nil
	}
	result := make(duckdb.Map, len(kvs))
	for _, kv := range kvs {
		if kv != nil && kv.Key != "" {
			result[kv.Key] = anyValueToString(kv.Value)
		}
	}
	return result
}

// anyValueToString renders a scalar OTLP AnyValue; empty values become "".
func anyValueToString(v *commonv1.AnyValue) string {
	if v == nil {
		return ""
	}
	switch val := v.Value.(type) {
	case *commonv1.AnyValue_StringValue:
		return val.StringValue
	case *commonv1.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonv1.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
	case *commonv1.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonv1.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	default:
		return ""
	}
}

// mapToStrings converts a scanned DuckDB MAP into a plain string map.
func mapToStrings(m duckdb.Map) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[fmt.Sprint(k)] = fmt.Sprint(v)
	}
	return out
}
