package aigues

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Both providers report local time in Catalonia.
var madridLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		panic(fmt.Errorf("failed to load madrid location: %w", err))
	}
	return loc
}()

// Location returns the time zone the providers report in.
func Location() *time.Location {
	return madridLocation
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekRange returns the Monday and Sunday of the week containing ref.
func WeekRange(ref time.Time) (time.Time, time.Time) {
	day := truncateDay(ref)
	// time.Weekday starts on Sunday
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)
	return monday, monday.AddDate(0, 0, 6)
}

// MonthRange returns the first and last day of the month containing ref.
func MonthRange(ref time.Time) (time.Time, time.Time) {
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	// day 0 of the next month is the last day of this one
	last := time.Date(ref.Year(), ref.Month()+1, 0, 0, 0, 0, 0, ref.Location())
	return first, last
}
