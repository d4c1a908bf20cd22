package markethours

import "time"

// NYSE full-day holidays for 2026.
// Source: NYSE official holiday calendar.
var nyseHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.January, 19},  // Martin Luther King, Jr. Day
	{time.February, 16}, // Washington's Birthday
	{time.April, 3},     // Good Friday
	{time.May, 25},      // Memorial Day
	{time.June, 19},     // Juneteenth
	{time.July, 3},      // Independence Day (observed)
	{time.September, 7}, // Labor Day
	{time.November, 26}, // Thanksgiving Day
	{time.December, 25}, // Christmas Day
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(nyseHolidays2026))
	for _, h := range nyseHolidays2026 {
		key := dateKey(2026, h.month, h.day)
		holidaySet[key] = true
	}
}

// IsHoliday returns true if the date (in Eastern time) is an NYSE holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(Eastern)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, Eastern).Format("2006-01-02")
}
