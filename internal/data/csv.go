package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Accepted timestamp layouts for CSV ingestion, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadCSV reads an OHLCV candle file. The header must contain a
// date/timestamp column plus open, high, low, close and volume; a missing
// column is a fatal ingestion error. Timestamps must be strictly increasing.
func LoadCSV(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	series, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return series, nil
}

// ReadCSV parses candle rows from r. See LoadCSV for the expected schema.
func ReadCSV(r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	tsCol, ok := cols["timestamp"]
	if !ok {
		tsCol, ok = cols["date"]
	}
	if !ok {
		return nil, fmt.Errorf("missing required column: timestamp (or date)")
	}
	for _, required := range []string{"open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	var series Series
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := parseTimestamp(record[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		candle := Candle{Timestamp: ts}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &candle.Open},
			{"high", &candle.High},
			{"low", &candle.Low},
			{"close", &candle.Close},
			{"volume", &candle.Volume},
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[cols[f.name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s value %q", line, f.name, record[cols[f.name]])
			}
			*f.dst = v
		}
		series = append(series, candle)
	}

	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("candle sequence invalid: %w", err)
	}
	return series, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	// Unix seconds or milliseconds.
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
