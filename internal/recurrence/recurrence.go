// Package recurrence computes the next execution time for a ScheduledTask,
// ported from original_source's services/scheduler/recurrence.py. All times
// are UTC.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatstreamd/internal/errs"
	"chatstreamd/internal/model"
)

// ParseScheduledTime splits an "HH:MM" or "HH:MM:SS" string into parts.
func ParseScheduledTime(scheduledTime string) (hour, minute, second int, err error) {
	parts := strings.Split(scheduledTime, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("recurrence: malformed scheduled_time %q", scheduledTime)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("recurrence: malformed hour in %q: %w", scheduledTime, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("recurrence: malformed minute in %q: %w", scheduledTime, err)
	}
	if len(parts) == 3 {
		second, err = strconv.Atoi(parts[2])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("recurrence: malformed second in %q: %w", scheduledTime, err)
		}
	}
	return hour, minute, second, nil
}

func dailyExecution(fromTime time.Time, hour, minute, second int) time.Time {
	y, m, d := fromTime.Date()
	next := time.Date(y, m, d, hour, minute, second, 0, time.UTC)
	if !next.After(fromTime) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// mondayWeekday converts Go's time.Weekday (Sunday=0) to the Python
// convention used by scheduled_day (Monday=0..Sunday=6).
func mondayWeekday(w time.Weekday) int {
	return (int(w) + 6) % 7
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NextDateTime computes the next occurrence at or after fromTime, per
// recurrence_type. allowOnce controls whether ONCE tasks compute a first
// execution (true, used at task creation) or refuse to recompute (false,
// used once an ONCE task has already fired — it never recurs).
func NextDateTime(recurrenceType model.RecurrenceType, scheduledTime string, scheduledDay *int, fromTime time.Time, allowOnce bool) (*time.Time, error) {
	hour, minute, second, err := ParseScheduledTime(scheduledTime)
	if err != nil {
		return nil, err
	}
	fromTime = fromTime.UTC()

	switch recurrenceType {
	case model.RecurrenceOnce:
		if !allowOnce {
			return nil, nil
		}
		next := dailyExecution(fromTime, hour, minute, second)
		return &next, nil

	case model.RecurrenceDaily:
		next := dailyExecution(fromTime, hour, minute, second)
		return &next, nil

	case model.RecurrenceWeekly:
		if scheduledDay == nil || *scheduledDay < 0 || *scheduledDay > 6 {
			return nil, errs.NewSchedulerError("weekly tasks require scheduled_day (0-6)")
		}
		targetWeekday := *scheduledDay
		currentDate := fromTime
		currentWeekday := mondayWeekday(currentDate.Weekday())

		daysAhead := ((targetWeekday - currentWeekday) % 7 + 7) % 7
		if daysAhead == 0 {
			y, m, d := currentDate.Date()
			testDT := time.Date(y, m, d, hour, minute, second, 0, time.UTC)
			if !testDT.After(fromTime) {
				daysAhead = 7
			}
		}
		nextDate := currentDate.AddDate(0, 0, daysAhead)
		y, m, d := nextDate.Date()
		next := time.Date(y, m, d, hour, minute, second, 0, time.UTC)
		return &next, nil

	case model.RecurrenceMonthly:
		if scheduledDay == nil || *scheduledDay < 1 || *scheduledDay > 31 {
			return nil, errs.NewSchedulerError("monthly tasks require scheduled_day (1-31)")
		}
		targetDay := *scheduledDay
		year, month, _ := fromTime.Date()

		maxDay := daysInMonth(year, month)
		day := targetDay
		if day > maxDay {
			day = maxDay
		}
		testDT := time.Date(year, month, day, hour, minute, second, 0, time.UTC)

		if !testDT.After(fromTime) {
			if month == time.December {
				month = time.January
				year++
			} else {
				month++
			}
			maxDay = daysInMonth(year, month)
			day = targetDay
			if day > maxDay {
				day = maxDay
			}
		}
		next := time.Date(year, month, day, hour, minute, second, 0, time.UTC)
		return &next, nil
	}

	return nil, errs.NewSchedulerError("unexpected recurrence type: %s", recurrenceType)
}

// NextExecution computes the next execution from fromTime for an already
// active recurring task. ONCE tasks never recompute (they complete and
// disable instead, per the scheduler runner).
func NextExecution(task *model.ScheduledTask, fromTime time.Time) (*time.Time, error) {
	return NextDateTime(task.RecurrenceType, task.ScheduledTime, task.ScheduledDay, fromTime, false)
}

// InitialNextExecution computes the first next_execution at task-creation or
// re-enable time, where ONCE tasks do get an execution time.
func InitialNextExecution(recurrenceType model.RecurrenceType, scheduledTime string, scheduledDay *int) (time.Time, error) {
	result, err := NextDateTime(recurrenceType, scheduledTime, scheduledDay, time.Now().UTC(), true)
	if err != nil {
		return time.Time{}, err
	}
	if result == nil {
		return time.Time{}, errs.NewSchedulerError("could not calculate next execution for %s", recurrenceType)
	}
	return *result, nil
}

// ValidateConstraints enforces the WEEKLY/MONTHLY scheduled_day range
// invariants at write time (spec §3).
func ValidateConstraints(recurrenceType model.RecurrenceType, scheduledDay *int) error {
	switch recurrenceType {
	case model.RecurrenceWeekly:
		if scheduledDay == nil || *scheduledDay < 0 || *scheduledDay > 6 {
			return errs.NewSchedulerError("weekly tasks require scheduled_day between 0 (Monday) and 6 (Sunday)")
		}
	case model.RecurrenceMonthly:
		if scheduledDay == nil || *scheduledDay < 1 || *scheduledDay > 31 {
			return errs.NewSchedulerError("monthly tasks require scheduled_day between 1 and 31")
		}
	}
	return nil
}
