package ingest

import (
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestParse(t *testing.T) {
	is := is.New(t)

	testCases := []struct {
		line     string
		expected float64
	}{
		{`{"value": 42.5, "type": "smoke"}`, 42.5},
		{`{"value": "42.5", "type": "temperature"}`, 42.5},
		{`{"type": "flame", "value": -3}`, -3},
		{`{"value": 17}`, 17},
		{"42.5", 42.5},
		{"  42.5\r", 42.5},
		{"1e2", 100},
	}

	for _, tc := range testCases {
		v, err := Parse(tc.line)
		is.NoErr(err)
		is.Equal(v, tc.expected)
	}
}

func TestParseMalformed(t *testing.T) {
	is := is.New(t)

	lines := []string{
		"",
		"   ",
		"hello",
		"42.5 ppm",
		`{"type": "smoke"}`,
		`{"value": null}`,
		`{"value": "hot"}`,
		`{"value": true}`,
		`{"value": 42.5`,
		`{"value": "NaN"}`,
		"NaN",
		"+Inf",
		"-inf",
		"\x00\x01\x02",
	}

	for _, line := range lines {
		_, err := Parse(line)
		is.True(errors.Is(err, ErrMalformed))
	}
}
