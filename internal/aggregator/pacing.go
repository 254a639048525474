package aggregator

import (
	"math"
	"time"
)

// unboundedRunCap bounds a single run when daily_limit is -1.
const unboundedRunCap = 100

// defaultRunInterval stands in for the run cadence when a feed has not
// run yet today.
const defaultRunInterval = 1800 * time.Second

// FetchLimit computes how many new items this run may add, spreading a
// feed's daily budget over the runs expected before UTC midnight.
//
// daily_limit semantics: -1 is unbounded (capped per run), 0 disables
// the feed, positive values are a per-UTC-day budget. addedToday counts
// articles created since UTC midnight. forceRefresh requests the full
// remaining budget at once.
func FetchLimit(dailyLimit, addedToday int, lastRunAt, now time.Time, forceRefresh bool) int {
	switch {
	case dailyLimit == 0:
		return 0
	case dailyLimit < 0:
		return unboundedRunCap
	}

	remaining := dailyLimit - addedToday
	if remaining <= 0 {
		return 0
	}
	if forceRefresh {
		return remaining
	}

	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	secondsToMidnight := midnight.Add(24 * time.Hour).Sub(nowUTC).Seconds()

	sinceLastRun := defaultRunInterval.Seconds()
	if !lastRunAt.IsZero() && !lastRunAt.UTC().Before(midnight) {
		elapsed := nowUTC.Sub(lastRunAt.UTC()).Seconds()
		if elapsed > 0 {
			sinceLastRun = elapsed
		}
	}

	remainingRuns := secondsToMidnight / sinceLastRun
	if remainingRuns < 1 {
		remainingRuns = 1
	}

	limit := int(math.Ceil(float64(remaining) / remainingRuns))
	if limit < 1 {
		limit = 1
	}
	return limit
}
