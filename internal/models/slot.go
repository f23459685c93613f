package models

import (
	"fmt"
	"strings"
	"time"
)

const slotDateLayout = "2006-01-02"

var slotTimeLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "03:04 PM"}

// ParseSlot combines an appointment's date and wall-clock time into an
// instant in loc.
func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(slotDateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid appointment date %q", date)
	}

	clock = strings.ToUpper(strings.TrimSpace(clock))
	for _, layout := range slotTimeLayouts {
		t, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
	}

	return time.Time{}, fmt.Errorf("invalid appointment time %q", clock)
}

// ScheduledAt is the appointment instant interpreted in loc.
func (a *Appointment) ScheduledAt(loc *time.Location) (time.Time, error) {
	return ParseSlot(a.Date, a.Time, loc)
}
