// Package market provides the market-hours clock consulted by the scheduler.
package market

import (
	"fmt"
	"time"
)

// Hours is the capability consulted to classify market state.
type Hours interface {
	IsOpen(now time.Time) (bool, error)
	CurrentSession(now time.Time) (string, error)
	IsSafePromotionWindow(now time.Time) (bool, error)
}

// Session labels returned by CurrentSession.
const (
	SessionRegular  = "regular"
	SessionClosed   = "closed"
	SessionWeekend  = "weekend"
	SessionPreOpen  = "pre-open"
	SessionAfterHrs = "after-hours"
)

// Clock is a timezone-aware session clock for a single daily trading
// session (weekdays only).
type Clock struct {
	location  *time.Location
	openHour  int
	closeHour int
}

// NewClock creates a session clock for the given IANA timezone and
// local open/close hours.
func NewClock(timezone string, openHour, closeHour int) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", timezone, err)
	}
	if openHour < 0 || closeHour > 24 || openHour >= closeHour {
		return nil, fmt.Errorf("invalid session hours %d-%d", openHour, closeHour)
	}
	return &Clock{location: loc, openHour: openHour, closeHour: closeHour}, nil
}

// IsOpen reports whether the market is in its regular session.
func (c *Clock) IsOpen(now time.Time) (bool, error) {
	local := now.In(c.location)
	if isWeekend(local) {
		return false, nil
	}
	h := local.Hour()
	return h >= c.openHour && h < c.closeHour, nil
}

// CurrentSession classifies the current time of day.
func (c *Clock) CurrentSession(now time.Time) (string, error) {
	local := now.In(c.location)
	if isWeekend(local) {
		return SessionWeekend, nil
	}
	switch h := local.Hour(); {
	case h >= c.openHour && h < c.closeHour:
		return SessionRegular, nil
	case h < c.openHour:
		return SessionPreOpen, nil
	default:
		return SessionAfterHrs, nil
	}
}

// IsSafePromotionWindow reports whether swapping a champion model is safe.
// The window is any time the market is closed and more than an hour away
// from the next open, so a promotion never races the opening bell.
func (c *Clock) IsSafePromotionWindow(now time.Time) (bool, error) {
	local := now.In(c.location)
	open, err := c.IsOpen(now)
	if err != nil {
		return false, err
	}
	if open {
		return false, nil
	}
	return c.nextOpen(local).Sub(local) > time.Hour, nil
}

func (c *Clock) nextOpen(local time.Time) time.Time {
	day := time.Date(local.Year(), local.Month(), local.Day(), c.openHour, 0, 0, 0, c.location)
	for !day.After(local) || isWeekend(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
