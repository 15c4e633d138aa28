package domain

import (
	"fmt"
	"strings"
)

// CurrencyPair identifies a (from, to) quote, e.g. ADA/USD.
type CurrencyPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewCurrencyPair normalizes both symbols to upper case.
func NewCurrencyPair(from, to string) CurrencyPair {
	return CurrencyPair{
		From: strings.ToUpper(strings.TrimSpace(from)),
		To:   strings.ToUpper(strings.TrimSpace(to)),
	}
}

func (p CurrencyPair) String() string {
	return p.From + "/" + p.To
}

// Cadence is the resolution of a historical series.
type Cadence int

const (
	CadenceDaily Cadence = iota
	CadenceHourly
)

const (
	// MaxDailyPoints is the upstream limit for one daily history request.
	MaxDailyPoints = 2000
	// MaxHourlyPoints is one week of hourly points.
	MaxHourlyPoints = 24 * 7
)

func (c Cadence) String() string {
	switch c {
	case CadenceDaily:
		return "daily"
	case CadenceHourly:
		return "hourly"
	default:
		return "unknown"
	}
}

// MaxPoints returns the hard series length bound for the cadence.
func (c Cadence) MaxPoints() int {
	if c == CadenceHourly {
		return MaxHourlyPoints
	}
	return MaxDailyPoints
}

// ParseCadence accepts "daily"/"day" and "hourly"/"hour".
func ParseCadence(s string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day", "":
		return CadenceDaily, nil
	case "hourly", "hour":
		return CadenceHourly, nil
	default:
		return 0, fmt.Errorf("%w: cadence %q", ErrInvalidParam, s)
	}
}

// Contains reports whether symbol is in the set.
func Contains(set []string, symbol string) bool {
	for _, s := range set {
		if s == symbol {
			return true
		}
	}
	return false
}
