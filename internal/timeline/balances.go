package timeline

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// AccountIntervals turns one account's snapshots into consecutive intervals.
// Each snapshot holds until the day before the next one; the last holds until
// models.MaxDate.
func AccountIntervals(snapshots []*models.DailyBalance) []models.BalanceInterval {
	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b *models.DailyBalance) int {
		return a.Date.Compare(b.Date)
	})

	out := make([]models.BalanceInterval, 0, len(sorted))
	for i, s := range sorted {
		end := models.MaxDate
		if i+1 < len(sorted) {
			next := models.Day(sorted[i+1].Date)
			if next.Equal(models.Day(s.Date)) {
				// Duplicate date: the later snapshot wins.
				continue
			}
			end = next.AddDate(0, 0, -1)
		}
		out = append(out, models.BalanceInterval{
			DateInterval: models.DateInterval{Start: models.Day(s.Date), End: end},
			Balance:      s.Balance,
		})
	}
	return out
}

// BuildBalanceTimeline merges snapshots of any number of accounts into one
// contiguous timeline of combined balances, ordered by start date. The last
// interval ends at models.MaxDate. No snapshots yields no intervals.
func BuildBalanceTimeline(snapshots []*models.DailyBalance) []models.BalanceInterval {
	byAccount := make(map[string][]*models.DailyBalance)
	for _, s := range snapshots {
		byAccount[s.AccountID] = append(byAccount[s.AccountID], s)
	}

	var intervals []models.BalanceInterval
	for _, accountSnapshots := range byAccount {
		intervals = append(intervals, AccountIntervals(accountSnapshots)...)
	}
	return Merge(intervals)
}

// Merge sums overlapping interval sets with a sweep over change points: each
// interval adds its balance at its start and removes it the day after its end.
// Intervals ending at models.MaxDate never end.
func Merge(intervals []models.BalanceInterval) []models.BalanceInterval {
	if len(intervals) == 0 {
		return nil
	}

	deltas := make(map[time.Time]decimal.Decimal)
	for _, iv := range intervals {
		deltas[iv.Start] = deltas[iv.Start].Add(iv.Balance)
		if !iv.End.Equal(models.MaxDate) {
			after := iv.End.AddDate(0, 0, 1)
			deltas[after] = deltas[after].Sub(iv.Balance)
		}
	}

	points := make([]time.Time, 0, len(deltas))
	for d := range deltas {
		points = append(points, d)
	}
	slices.SortFunc(points, func(a, b time.Time) int { return a.Compare(b) })

	out := make([]models.BalanceInterval, 0, len(points))
	sum := decimal.Zero
	for i, p := range points {
		sum = sum.Add(deltas[p])
		end := models.MaxDate
		if i+1 < len(points) {
			end = points[i+1].AddDate(0, 0, -1)
		}
		out = append(out, models.BalanceInterval{
			DateInterval: models.DateInterval{Start: p, End: end},
			Balance:      sum,
		})
	}
	return out
}

// BalanceAt returns the balance in effect on date, 0 before the first interval.
func BalanceAt(intervals []models.BalanceInterval, date time.Time) decimal.Decimal {
	date = models.Day(date)
	i, found := slices.BinarySearchFunc(intervals, date, func(iv models.BalanceInterval, d time.Time) int {
		return iv.Start.Compare(d)
	})
	if found {
		return intervals[i].Balance
	}
	if i == 0 {
		return decimal.Zero
	}
	return intervals[i-1].Balance
}

// ToFixedPeriod restricts an ordered timeline to exactly [start, end]. The
// first bucket carries the balance in effect at start (0 if the timeline
// starts later); later buckets begin at each interval start inside the window.
func ToFixedPeriod(intervals []models.BalanceInterval, start, end time.Time) []models.BalanceInterval {
	start, end = models.Day(start), models.Day(end)

	seed := decimal.Zero
	var starts []models.BalanceInterval
	for _, iv := range intervals {
		switch {
		case !iv.Start.After(start):
			seed = iv.Balance
		case !iv.Start.After(end):
			starts = append(starts, iv)
		}
	}

	out := make([]models.BalanceInterval, 0, len(starts)+1)
	out = append(out, models.BalanceInterval{
		DateInterval: models.DateInterval{Start: start},
		Balance:      seed,
	})
	out = append(out, starts...)
	for i := range out {
		if i+1 < len(out) {
			out[i].End = out[i+1].Start.AddDate(0, 0, -1)
		} else {
			out[i].End = end
		}
	}
	return out
}

// ToDailyIntervals expands a timeline into one bucket per calendar day. The
// timeline must be bounded; cap it with ToFixedPeriod first.
func ToDailyIntervals(intervals []models.BalanceInterval) ([]models.BalanceInterval, error) {
	var out []models.BalanceInterval
	for _, iv := range intervals {
		if iv.End.Equal(models.MaxDate) {
			return nil, common.Validationf("interval starting %s is open-ended", models.FormatDate(iv.Start))
		}
		for d := iv.Start; !d.After(iv.End); d = d.AddDate(0, 0, 1) {
			out = append(out, models.BalanceInterval{
				DateInterval: models.DateInterval{Start: d, End: d},
				Balance:      iv.Balance,
			})
		}
	}
	return out, nil
}
