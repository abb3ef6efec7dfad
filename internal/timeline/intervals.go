// Package timeline partitions date ranges into reporting buckets and turns
// balance snapshots into a merged balance-over-time curve.
package timeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// ErrIntervalBudgetExceeded is matched by errors.Is when even yearly buckets
// cannot cover a range within the requested maximum.
var ErrIntervalBudgetExceeded = errors.New("interval budget exceeded")

// unitOrder is the order in which granularities are tried, finest first.
var unitOrder = []models.IntervalUnit{models.UnitDays, models.UnitWeeks, models.UnitMonths, models.UnitYears}

// GetIntervals partitions [start, end] using the finest unit that needs no
// more than maxIntervals buckets.
func GetIntervals(start, end time.Time, maxIntervals int) (models.Intervals, error) {
	start, end = models.Day(start), models.Day(end)
	if err := validateRange(start, end); err != nil {
		return models.Intervals{}, err
	}
	if maxIntervals <= 0 {
		return models.Intervals{}, common.Validationf("max intervals must be positive, got %d", maxIntervals)
	}

	for _, unit := range unitOrder {
		// Bucket k starts at start + k units; n buckets suffice iff the
		// (n+1)th would start after end.
		if unit.AddTo(start, maxIntervals).After(end) {
			return models.Intervals{Unit: unit, Buckets: layout(start, end, unit)}, nil
		}
	}

	return models.Intervals{}, &common.Error{
		Kind: common.KindValidation,
		Msg: fmt.Sprintf("%s to %s needs more than %d yearly intervals",
			models.FormatDate(start), models.FormatDate(end), maxIntervals),
		Err: ErrIntervalBudgetExceeded,
	}
}

// GetFixedIntervals partitions [start, end] with a unit picked from the span:
// under a month uses days, under six months weeks, up to three years months,
// and anything longer years.
func GetFixedIntervals(start, end time.Time) (models.Intervals, error) {
	start, end = models.Day(start), models.Day(end)
	if err := validateRange(start, end); err != nil {
		return models.Intervals{}, err
	}
	unit := FixedPolicyUnit(start, end)
	return models.Intervals{Unit: unit, Buckets: layout(start, end, unit)}, nil
}

// FixedPolicyUnit is the granularity GetFixedIntervals uses for a range.
func FixedPolicyUnit(start, end time.Time) models.IntervalUnit {
	switch {
	case end.Before(models.UnitMonths.AddTo(start, 1)):
		return models.UnitDays
	case end.Before(models.UnitMonths.AddTo(start, 6)):
		return models.UnitWeeks
	case !end.After(models.UnitYears.AddTo(start, 3)):
		return models.UnitMonths
	default:
		return models.UnitYears
	}
}

func validateRange(start, end time.Time) error {
	if end.Before(start) {
		return common.Validationf("end date %s is before start date %s", models.FormatDate(end), models.FormatDate(start))
	}
	return nil
}

// layout steps from start rather than from the previous bucket, so month
// clamping never drifts (Jan 31, Feb 28, Mar 31).
func layout(start, end time.Time, unit models.IntervalUnit) []models.DateInterval {
	var out []models.DateInterval
	for i := 0; ; i++ {
		s := unit.AddTo(start, i)
		if s.After(end) {
			break
		}
		e := unit.AddTo(start, i+1).AddDate(0, 0, -1)
		if e.After(end) {
			e = end
		}
		out = append(out, models.DateInterval{Start: s, End: e})
	}
	return out
}
