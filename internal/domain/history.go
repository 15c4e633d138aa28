package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// divisionPlaces keeps derived ratios well beyond 15 significant digits for
// any realistic price magnitude.
const divisionPlaces = 32

// HistoryPoint is one sample of a historical series.
type HistoryPoint struct {
	Time  int64           `json:"time"` // Unix seconds
	Price decimal.Decimal `json:"price"`
}

// HistorySeries is chronological.
type HistorySeries []HistoryPoint

// Truncate keeps at most the newest n points.
func (s HistorySeries) Truncate(n int) HistorySeries {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// CrossRate derives one point of from/to given from/base and to/base samples
// taken at the same instant: 1 from = fb base, 1 to = tb base, so
// 1 from = fb/tb to.
func CrossRate(fromBase, toBase HistoryPoint) (HistoryPoint, error) {
	if fromBase.Time != toBase.Time {
		return HistoryPoint{}, &InvariantError{
			Op:  "cross rate",
			Err: fmt.Errorf("%w: %d != %d", ErrTimestampMismatch, fromBase.Time, toBase.Time),
		}
	}
	if toBase.Price.IsZero() {
		return HistoryPoint{}, &InvariantError{
			Op:  "cross rate",
			Err: fmt.Errorf("%w: zero base price at %d", ErrDegenerateMarket, toBase.Time),
		}
	}
	return HistoryPoint{
		Time:  fromBase.Time,
		Price: fromBase.Price.DivRound(toBase.Price, divisionPlaces),
	}, nil
}

// CrossSeries applies CrossRate pointwise. Both series must have the same
// length and matching timestamps at every index.
func CrossSeries(fromBase, toBase HistorySeries) (HistorySeries, error) {
	if len(fromBase) != len(toBase) {
		return nil, &InvariantError{
			Op:  "cross series",
			Err: fmt.Errorf("%w: length %d != %d", ErrTimestampMismatch, len(fromBase), len(toBase)),
		}
	}
	out := make(HistorySeries, len(fromBase))
	for i := range fromBase {
		p, err := CrossRate(fromBase[i], toBase[i])
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}
