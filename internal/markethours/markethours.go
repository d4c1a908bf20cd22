// Package markethours knows the US equity trading session. It drives
// day-order expiry and provider connection timing.
package markethours

import (
	"fmt"
	"time"
)

// Eastern is the US Eastern time location. A fixed fallback zone is used if
// the tz database is unavailable.
var Eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}

// Regular session hours in Eastern time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0

	// Pre-market warm-up timing: wake early for session login, connect the
	// quote stream just before the bell.
	PreOpenMinutesBefore   = 5
	WSConnectMinutesBefore = 1
)

// IsMarketOpen returns true if t falls within regular NYSE trading hours
// (9:30 AM – 4:00 PM ET, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	et := t.In(Eastern)
	wd := et.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if IsHoliday(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(Eastern)
	return IsWeekday(et) && !IsHoliday(et)
}

// NextOpen returns the next market open (9:30 AM ET on the next trading day).
// If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(Eastern)

	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
	if et.Before(todayOpen) && IsTradingDay(et) {
		return todayOpen
	}

	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(et.Year(), et.Month(), et.Day()+1, OpenHour, OpenMinute, 0, 0, Eastern)
}

// PrevClose returns the most recent session close at or before t.
func PrevClose(t time.Time) time.Time {
	et := t.In(Eastern)
	d := et
	for i := 0; i < 10; i++ {
		closeAt := time.Date(d.Year(), d.Month(), d.Day(), CloseHour, CloseMinute, 0, 0, Eastern)
		if IsTradingDay(d) && !closeAt.After(et) {
			return closeAt
		}
		d = d.AddDate(0, 0, -1)
	}
	return time.Date(et.Year(), et.Month(), et.Day()-1, CloseHour, CloseMinute, 0, 0, Eastern)
}

// NextPreOpen returns the next pre-market warm-up time, used to start
// session login ahead of the bell.
func NextPreOpen(t time.Time) time.Time {
	open := NextOpen(t)
	return open.Add(-time.Duration(PreOpenMinutesBefore) * time.Minute)
}

// WSConnectTime returns the quote stream connect time for the given open.
func WSConnectTime(openTime time.Time) time.Time {
	return openTime.Add(-time.Duration(WSConnectMinutesBefore) * time.Minute)
}

// TodayClose returns today's market close time (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, Eastern)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if the market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	cl := TodayClose(t)
	d := cl.Sub(t.In(Eastern))
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next market open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.In(Eastern))
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := TimeUntilClose(t)
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(d))
	}
	next := NextOpen(t)
	d := next.Sub(t)
	et := next.In(Eastern)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(d))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
