package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/insight/internal/trace"
)

// timeLayout is the text form of every persisted timestamp. Fixed-width
// nanoseconds keep lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// marshalJSON encodes v as JSON TEXT for a column.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalStrings decodes a JSON array column, never returning nil.
func unmarshalStrings(data string) ([]string, error) {
	out := []string{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// unmarshalIDs decodes a JSON array of ids, never returning nil.
func unmarshalIDs(data string) ([]int64, error) {
	out := []int64{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal id list: %w", err)
	}
	if out == nil {
		out = []int64{}
	}
	return out, nil
}

// unmarshalMetadata decodes a JSON object column. "null" yields a nil map.
func unmarshalMetadata(data string) (map[string]string, error) {
	var out map[string]string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return out, nil
}

func unmarshalSummary(data string, sum *trace.Summary) error {
	if err := json.Unmarshal([]byte(data), sum); err != nil {
		return fmt.Errorf("unmarshal summary: %w", err)
	}
	return nil
}
