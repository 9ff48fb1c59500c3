package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// parseISODurationMs parses a subset of ISO-8601 durations
// (PnYnMnDTnHnMnS, fractional seconds permitted) into milliseconds.
func parseISODurationMs(s string) (float64, error) {
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("duration must start with 'P'")
	}
	rest := s[1:]
	datePart, timePart := rest, ""
	if idx := strings.IndexByte(rest, 'T'); idx >= 0 {
		datePart, timePart = rest[:idx], rest[idx+1:]
	}

	var totalMs float64
	var err error
	totalMs, err = accumulateUnits(datePart, map[byte]float64{
		'Y': 365 * 24 * 3600 * 1000,
		'M': 30 * 24 * 3600 * 1000,
		'D': 24 * 3600 * 1000,
	})
	if err != nil {
		return 0, err
	}
	if timePart != "" {
		timeMs, err := accumulateUnits(timePart, map[byte]float64{
			'H': 3600 * 1000,
			'M': 60 * 1000,
			'S': 1000,
		})
		if err != nil {
			return 0, err
		}
		totalMs += timeMs
	}
	return totalMs, nil
}

func accumulateUnits(s string, unitsMs map[byte]float64) (float64, error) {
	var total float64
	numStart := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		unitMs, ok := unitsMs[c]
		if !ok {
			return 0, fmt.Errorf("unrecognized duration unit %q", string(c))
		}
		n, err := strconv.ParseFloat(s[numStart:i], 64)
		if err != nil {
			return 0, fmt.Errorf("malformed duration quantity %q", s[numStart:i])
		}
		total += n * unitMs
		numStart = i + 1
	}
	return total, nil
}

// formatISODurationMs renders milliseconds back to an ISO-8601 duration
// string expressed purely in seconds, preserving fractional milliseconds.
// This canonicalizes: a "P1D" input round-trips through Duration as
// 86400000ms and back out as "PT86400S", not "P1D". Only the millisecond
// value round-trips exactly; the Y/M/D unit breakdown of the original
// string is not retained.
func formatISODurationMs(ms float64) string {
	seconds := ms / 1000.0
	s := strconv.FormatFloat(seconds, 'f', -1, 64)
	return "PT" + s + "S"
}
