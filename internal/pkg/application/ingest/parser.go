package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed reading")

// parser is one step in the line parsing chain. ok is false when the line is not in
// the format the step understands, in which case the next step is tried.
type parser func(line string) (value float64, ok bool, err error)

var parsers = []parser{
	parseRecord,
	parseNumber,
}

// Parse extracts the sensor value from a raw device line.
func Parse(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	for _, p := range parsers {
		v, ok, err := p(line)
		if err != nil {
			return 0, err
		}
		if ok {
			return v, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrMalformed, truncate(line, 64))
}

type record struct {
	Value *json.RawMessage `json:"value"`
	Type  string           `json:"type,omitempty"`
}

func parseRecord(line string) (float64, bool, error) {
	if !strings.HasPrefix(line, "{") {
		return 0, false, nil
	}

	var r record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return 0, false, nil
	}

	if r.Value == nil {
		return 0, false, fmt.Errorf("%w: record has no value", ErrMalformed)
	}

	var n json.Number
	if err := json.Unmarshal(*r.Value, &n); err != nil {
		var s string
		if err := json.Unmarshal(*r.Value, &s); err != nil {
			return 0, false, fmt.Errorf("%w: record value is not numeric", ErrMalformed)
		}
		n = json.Number(strings.TrimSpace(s))
	}

	v, err := finite(string(n))
	if err != nil {
		return 0, false, err
	}

	return v, true, nil
}

func parseNumber(line string) (float64, bool, error) {
	v, err := finite(line)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

func finite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, truncate(s, 32))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a finite number", ErrMalformed, s)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
