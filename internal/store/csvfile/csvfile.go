// Package csvfile reads historical candles from CSV exports. It is a
// CandleSource for backtests and the input of the import command.
//
// Expected header: time,open,high,low,close[,volume]. time may be unix
// seconds, unix milliseconds, RFC3339 or "2006-01-02 15:04:05" (UTC).
package csvfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"breakoutbot/internal/model"
)

// CandleRow is one CSV line.
type CandleRow struct {
	Time   string `csv:"time"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume string `csv:"volume,omitempty"`
}

// ToModel parses the row.
func (r *CandleRow) ToModel() (model.Candle, error) {
	ts, err := ParseTime(r.Time)
	if err != nil {
		return model.Candle{}, err
	}
	var c model.Candle
	c.Time = ts
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", r.Open, &c.Open},
		{"high", r.High, &c.High},
		{"low", r.Low, &c.Low},
		{"close", r.Close, &c.Close},
		{"volume", r.Volume, &c.Volume},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" && f.name == "volume" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("csv: %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return c, nil
}

// ParseTime accepts the time formats listed in the package doc.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("csv: unrecognized time %q", s)
}

// Source reads one CSV file holding a single symbol and period.
type Source struct {
	Path string
}

var _ model.CandleSource = (*Source)(nil)

// NewSource creates a CSV source for path.
func NewSource(path string) *Source {
	return &Source{Path: path}
}

// Load parses the whole file, sorted by time.
func (s *Source) Load() ([]model.Candle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", s.Path, err)
	}
	defer f.Close()

	var rows []CandleRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("csv: unmarshal %s: %w", s.Path, err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for i := range rows {
		c, err := rows[i].ToModel()
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.Path, i+2, err)
		}
		candles = append(candles, c)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// ReadCandles returns candles with from <= Time <= to. symbol and period
// are not stored in the file and are ignored.
func (s *Source) ReadCandles(_ context.Context, _, _ string, from, to time.Time) ([]model.Candle, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if !from.IsZero() && c.Time.Before(from) {
			continue
		}
		if !to.IsZero() && c.Time.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Write exports candles to path.
func Write(path string, candles []model.Candle) error {
	rows := make([]CandleRow, len(candles))
	for i, c := range candles {
		rows[i] = CandleRow{
			Time:   c.Time.UTC().Format(time.RFC3339),
			Open:   strconv.FormatFloat(c.Open, 'f', -1, 64),
			High:   strconv.FormatFloat(c.High, 'f', -1, 64),
			Low:    strconv.FormatFloat(c.Low, 'f', -1, 64),
			Close:  strconv.FormatFloat(c.Close, 'f', -1, 64),
			Volume: strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create %s: %w", path, err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("csv: marshal %s: %w", path, err)
	}
	return nil
}
