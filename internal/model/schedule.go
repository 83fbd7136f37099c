package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 480

	fullDayStart = "00:00"
	fullDayEnd   = "23:59"
)

type Schedule struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	IntervalMinutes int    `json:"interval_minutes" yaml:"interval_minutes"`
	StartTime       string `json:"start_time" yaml:"start_time"`
	EndTime         string `json:"end_time" yaml:"end_time"`
	WeekendEnabled  bool   `json:"weekend_enabled" yaml:"weekend_enabled"`
}

func DefaultSchedule() Schedule {
	return Schedule{
		Enabled:         true,
		IntervalMinutes: 30,
		StartTime:       "08:00",
		EndTime:         "22:00",
		WeekendEnabled:  true,
	}
}

// FullDaySchedule 返回 24 小时模式的策略（00:00-23:59，周末同样执行）。
func FullDaySchedule(intervalMinutes int) Schedule {
	return Schedule{
		Enabled:         true,
		IntervalMinutes: intervalMinutes,
		StartTime:       fullDayStart,
		EndTime:         fullDayEnd,
		WeekendEnabled:  true,
	}
}

func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s Schedule) Validate() error {
	if s.IntervalMinutes < MinIntervalMinutes || s.IntervalMinutes > MaxIntervalMinutes {
		return fmt.Errorf("schedule.interval_minutes must be within %d..%d, got %d", MinIntervalMinutes, MaxIntervalMinutes, s.IntervalMinutes)
	}
	win, err := s.Window()
	if err != nil {
		return err
	}
	// 窗口不跨午夜。
	if win.Start > win.End {
		return fmt.Errorf("schedule window %s-%s ends before it starts", s.StartTime, s.EndTime)
	}
	return nil
}

func (s Schedule) Window() (Window, error) {
	start, err := ParseClock(s.StartTime)
	if err != nil {
		return Window{}, fmt.Errorf("schedule.start_time: %w", err)
	}
	end, err := ParseClock(s.EndTime)
	if err != nil {
		return Window{}, fmt.Errorf("schedule.end_time: %w", err)
	}
	return Window{Start: start, End: end}, nil
}

// Clock 是一天内的时刻（自 00:00 起的偏移）。
type Clock time.Duration

func ParseClock(v string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", v)
	}
	return Clock(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

func ClockOf(t time.Time) Clock {
	return Clock(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
}

func (c Clock) String() string {
	d := time.Duration(c)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

type Window struct {
	Start Clock
	End   Clock
}

// FullDay reports the distinguished 00:00-23:59 mode, which also bypasses the weekday gate.
func (w Window) FullDay() bool {
	return w.Start == 0 && w.End == Clock(23*time.Hour+59*time.Minute)
}

// Contains compares at second resolution, so 22:00:30 is outside a window ending at 22:00.
func (w Window) Contains(t time.Time) bool {
	c := ClockOf(t)
	return w.Start <= c && c <= w.End
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
