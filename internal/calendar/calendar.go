package calendar

import (
	"fmt"
	"time"
)

// Window is a daily open interval expressed as minutes since midnight.
// A zero-width window means closed all day.
type Window struct {
	OpenMinute  int
	CloseMinute int
}

// Calendar answers whether the lab accepts reservations at a given
// instant: weekday and weekend opening windows plus a public-holiday
// exclusion list. Holidays reject unconditionally.
type Calendar struct {
	loc      *time.Location
	weekday  Window
	weekend  Window
	holidays map[string]struct{} // keyed by YYYY-MM-DD in loc
}

// Config carries the user-facing calendar settings as HH:MM strings and
// holiday dates, as they appear in the YAML config file.
type Config struct {
	Timezone     string   `yaml:"timezone"`
	WeekdayOpen  string   `yaml:"weekday_open"`
	WeekdayClose string   `yaml:"weekday_close"`
	WeekendOpen  string   `yaml:"weekend_open"`
	WeekendClose string   `yaml:"weekend_close"`
	Holidays     []string `yaml:"holidays"` // YYYY-MM-DD
}

// New builds a Calendar from config, applying defaults for anything
// unset: UTC, 08:00-22:00 weekdays, 09:00-18:00 weekends.
func New(cfg Config) (*Calendar, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid calendar timezone %q: %w", cfg.Timezone, err)
		}
	}

	weekday, err := parseWindow(cfg.WeekdayOpen, cfg.WeekdayClose, "08:00", "22:00")
	if err != nil {
		return nil, fmt.Errorf("weekday hours: %w", err)
	}
	weekend, err := parseWindow(cfg.WeekendOpen, cfg.WeekendClose, "09:00", "18:00")
	if err != nil {
		return nil, fmt.Errorf("weekend hours: %w", err)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
		holidays[h] = struct{}{}
	}

	return &Calendar{
		loc:      loc,
		weekday:  weekday,
		weekend:  weekend,
		holidays: holidays,
	}, nil
}

func parseWindow(open, close, defaultOpen, defaultClose string) (Window, error) {
	if open == "" {
		open = defaultOpen
	}
	if close == "" {
		close = defaultClose
	}
	openMin, err := parseClock(open)
	if err != nil {
		return Window{}, err
	}
	closeMin, err := parseClock(close)
	if err != nil {
		return Window{}, err
	}
	if closeMin <= openMin {
		return Window{}, fmt.Errorf("close %q is not after open %q", close, open)
	}
	return Window{OpenMinute: openMin, CloseMinute: closeMin}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM): %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsOpen reports whether the lab is open for reservations at t.
func (c *Calendar) IsOpen(t time.Time) bool {
	local := t.In(c.loc)
	if _, holiday := c.holidays[local.Format("2006-01-02")]; holiday {
		return false
	}

	w := c.windowFor(local.Weekday())
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.OpenMinute && minute < w.CloseMinute
}

// DescribeHours returns a human-readable description of the opening
// hours applying on t's date, suitable for a rejection message.
func (c *Calendar) DescribeHours(t time.Time) string {
	local := t.In(c.loc)
	if _, holiday := c.holidays[local.Format("2006-01-02")]; holiday {
		return fmt.Sprintf("closed on %s (public holiday)", local.Format("2006-01-02"))
	}

	w := c.windowFor(local.Weekday())
	return fmt.Sprintf("open %s-%s on %s",
		formatClock(w.OpenMinute), formatClock(w.CloseMinute), local.Weekday())
}

func (c *Calendar) windowFor(day time.Weekday) Window {
	if day == time.Saturday || day == time.Sunday {
		return c.weekend
	}
	return c.weekday
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
