package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Granularity is the bucket width of a candle series.
type Granularity time.Duration

// ParseGranularity parses labels such as "1m", "15m", "1h" or "1d".
func ParseGranularity(s string) (Granularity, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, errors.Wrapf(ErrValidation, "invalid granularity %q", s)
		}
		return Granularity(time.Duration(n) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < time.Second {
		return 0, errors.Wrapf(ErrValidation, "invalid granularity %q", s)
	}
	return Granularity(d), nil
}

// Duration returns g as a time.Duration.
func (g Granularity) Duration() time.Duration { return time.Duration(g) }

// String returns the compact label, e.g. "5m".
func (g Granularity) String() string {
	d := time.Duration(g)
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return strconv.FormatInt(int64(d/(24*time.Hour)), 10) + "d"
	case d >= time.Hour && d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d >= time.Minute && d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	default:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
}

// Bucket returns the start of the bucket containing ts:
// floor(unixMilli / g) * g.
func (g Granularity) Bucket(ts time.Time) time.Time {
	width := time.Duration(g).Milliseconds()
	ms := ts.UnixMilli()
	b := ms - ms%width
	if ms < 0 && ms%width != 0 {
		b -= width
	}
	return time.UnixMilli(b).UTC()
}

func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Granularity) UnmarshalText(b []byte) error {
	parsed, err := ParseGranularity(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// Candle represents an OHLC summary of the ticks of one symbol within one
// bucket of a granularity. Volume counts ticks.
type Candle struct {
	Symbol      string      `json:"symbol"`
	Granularity Granularity `json:"granularity"`
	OpenTime    time.Time   `json:"open_time"` // bucket start (UTC)
	Open        float64     `json:"open"`
	High        float64     `json:"high"`
	Low         float64     `json:"low"`
	Close       float64     `json:"close"`
	Volume      int64       `json:"volume"`
	Final       bool        `json:"final"` // false while the bucket is live
}

// Key returns "symbol:granularity".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Granularity.String()
}

// Valid reports whether the OHLC ordering invariant holds.
func (c *Candle) Valid() bool {
	return c.Low <= c.High &&
		c.Low <= c.Open && c.Open <= c.High &&
		c.Low <= c.Close && c.Close <= c.High
}
