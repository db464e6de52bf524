package gateway

import (
	"fmt"
	"time"

	"github.com/hearthline/hearth-core/internal/infrastructure/config"
)

// minuteOfDay converts "HH:MM" to minutes since midnight.
func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("gateway: bad quiet hours time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// isQuietAt reports whether now falls inside the configured quiet
// window. Weekends get their own window. Windows may cross midnight
// (start 21:00, end 05:50); a window whose start equals its end covers
// the whole day.
//
// Malformed configuration counts as quiet. An unexpected announcement
// at 3am is a worse failure than a missed one.
func isQuietAt(now time.Time, cfg config.QuietHoursConfig) bool {
	if !cfg.Enabled {
		return false
	}

	startStr, endStr := cfg.WeekdayStart, cfg.WeekdayEnd
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		startStr, endStr = cfg.WeekendStart, cfg.WeekendEnd
	}

	start, err := minuteOfDay(startStr)
	if err != nil {
		return true
	}
	end, err := minuteOfDay(endStr)
	if err != nil {
		return true
	}

	minute := now.Hour()*60 + now.Minute()
	if start == end {
		return true
	}
	if start < end {
		return minute >= start && minute < end
	}
	// Window crosses midnight.
	return minute >= start || minute < end
}
