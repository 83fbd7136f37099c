package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hh, mm, ss int, day time.Weekday) time.Time {
	// 2026-10-12 is a Monday.
	base := time.Date(2026, 10, 12, hh, mm, ss, 0, time.Local)
	return base.AddDate(0, 0, (int(day)+6)%7)
}

func TestWindow_FullDay(t *testing.T) {
	w, err := FullDaySchedule(30).Window()
	require.NoError(t, err)
	assert.True(t, w.FullDay())

	w, err = DefaultSchedule().Window()
	require.NoError(t, err)
	assert.False(t, w.FullDay())
}

func TestWindow_Contains(t *testing.T) {
	w, err := DefaultSchedule().Window()
	require.NoError(t, err)

	assert.True(t, w.Contains(at(8, 0, 0, time.Monday)))
	assert.True(t, w.Contains(at(22, 0, 0, time.Monday)))
	assert.False(t, w.Contains(at(22, 0, 30, time.Monday)))
	assert.False(t, w.Contains(at(7, 59, 59, time.Monday)))
}

func TestIsWeekend(t *testing.T) {
	assert.False(t, IsWeekend(at(12, 0, 0, time.Friday)))
	assert.True(t, IsWeekend(at(12, 0, 0, time.Saturday)))
	assert.True(t, IsWeekend(at(12, 0, 0, time.Sunday)))
}

func TestSchedule_Validate(t *testing.T) {
	s := DefaultSchedule()
	require.NoError(t, s.Validate())

	s.IntervalMinutes = 0
	assert.Error(t, s.Validate())
	s.IntervalMinutes = 481
	assert.Error(t, s.Validate())

	s = DefaultSchedule()
	s.EndTime = "25:00"
	assert.Error(t, s.Validate())

	s = DefaultSchedule()
	s.StartTime, s.EndTime = "22:00", "06:00"
	assert.ErrorContains(t, s.Validate(), "ends before it starts")

	s.StartTime, s.EndTime = "06:00", "06:00"
	assert.NoError(t, s.Validate())
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:05")
	require.NoError(t, err)
	assert.Equal(t, "07:05", c.String())

	_, err = ParseClock("7h")
	assert.Error(t, err)
}

func TestSettings_NormalizeAndValidate(t *testing.T) {
	s := Settings{MaxChallengeRetries: 3, BrowserType: " Chrome ", BrowserPath: " /opt/chrome "}.Normalize()
	assert.Equal(t, BrowserChrome, s.BrowserType)
	assert.Equal(t, "/opt/chrome", s.BrowserPath)
	require.NoError(t, s.Validate())

	s.BrowserType = "firefox"
	assert.Error(t, s.Validate())
}

func TestSettings_NormalizeFillsNoDefaults(t *testing.T) {
	s := Settings{}.Normalize()
	assert.Zero(t, s.MaxChallengeRetries)
	assert.Empty(t, s.BrowserType)
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.MaxChallengeRetries = 0
	assert.ErrorContains(t, s.Validate(), "max_challenge_retries")

	s = DefaultSettings()
	s.BrowserType = ""
	assert.ErrorContains(t, s.Validate(), "browser_type")
}
