// Package schedule works out delivery dates from a customer's preferred day.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts full or three-letter day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdays[key]; ok {
		return d, nil
	}
	if len(key) >= 3 {
		for name, d := range weekdays {
			if strings.HasPrefix(name, key) {
				return d, nil
			}
		}
	}
	return time.Sunday, fmt.Errorf("unknown delivery day %q", s)
}

// CanonicalDay returns the capitalised full day name, e.g. "Saturday".
func CanonicalDay(s string) (string, error) {
	d, err := ParseWeekday(s)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// NextDeliveryDate is the start of the first preferredDay strictly after the
// day containing from.
func NextDeliveryDate(preferredDay string, from time.Time) (time.Time, error) {
	d, err := ParseWeekday(preferredDay)
	if err != nil {
		return time.Time{}, err
	}
	cfg := &now.Config{WeekStartDay: d, TimeLocation: from.Location()}
	return cfg.With(from).BeginningOfWeek().AddDate(0, 0, 7), nil
}

// FollowingDelivery advances a delivery date by one week.
func FollowingDelivery(current time.Time) time.Time {
	return now.With(current).BeginningOfDay().AddDate(0, 0, 7)
}
