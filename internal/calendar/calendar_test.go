package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarIsOpen(t *testing.T) {
	cal, err := New(Config{
		WeekdayOpen:  "08:00",
		WeekdayClose: "22:00",
		WeekendOpen:  "09:00",
		WeekendClose: "18:00",
		Holidays:     []string{"2025-05-01"},
	})
	require.NoError(t, err)

	testCases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"weekday mid-morning", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), true}, // Monday
		{"weekday at open", time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), true},
		{"weekday just before open", time.Date(2025, 3, 10, 7, 59, 0, 0, time.UTC), false},
		{"weekday at close", time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC), false},
		{"weekday last minute", time.Date(2025, 3, 10, 21, 59, 0, 0, time.UTC), true},
		{"saturday morning", time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC), true},
		{"saturday early", time.Date(2025, 3, 15, 8, 30, 0, 0, time.UTC), false},
		{"sunday evening", time.Date(2025, 3, 16, 19, 0, 0, 0, time.UTC), false},
		{"public holiday rejects all day", time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), false}, // a Thursday
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.open, cal.IsOpen(tc.at))
		})
	}
}

func TestCalendarDefaults(t *testing.T) {
	cal, err := New(Config{})
	require.NoError(t, err)

	// Defaults: 08:00-22:00 weekdays.
	assert.True(t, cal.IsOpen(time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsOpen(time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC)))
}

func TestCalendarTimezone(t *testing.T) {
	cal, err := New(Config{
		Timezone:     "Asia/Shanghai",
		WeekdayOpen:  "08:00",
		WeekdayClose: "22:00",
	})
	require.NoError(t, err)

	// 23:30 UTC Monday is 07:30 Tuesday in Shanghai: before opening.
	assert.False(t, cal.IsOpen(time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)))
	// 02:00 UTC Tuesday is 10:00 Shanghai: open.
	assert.True(t, cal.IsOpen(time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)))
}

func TestCalendarDescribeHours(t *testing.T) {
	cal, err := New(Config{
		WeekdayOpen:  "08:00",
		WeekdayClose: "22:00",
		Holidays:     []string{"2025-05-01"},
	})
	require.NoError(t, err)

	assert.Equal(t, "open 08:00-22:00 on Monday",
		cal.DescribeHours(time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)))
	assert.Equal(t, "closed on 2025-05-01 (public holiday)",
		cal.DescribeHours(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestCalendarConfigErrors(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"bad timezone", Config{Timezone: "Mars/Olympus"}},
		{"bad clock format", Config{WeekdayOpen: "8am"}},
		{"close before open", Config{WeekdayOpen: "18:00", WeekdayClose: "08:00"}},
		{"bad holiday date", Config{Holidays: []string{"May 1st"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			assert.Error(t, err)
		})
	}
}
