package settlement

import (
	"time"

	"condicional/backend/internal/domain"
)

// EvaluateDeadline computes overdue state from a deadline and "now" using
// calendar-day granularity, not elapsed hours: a deadline one hour ago that
// crossed midnight already counts as a full day late, while one later today
// still reads "due today" (zero days remaining, not overdue).
//
// A nil deadline yields the neutral zero value: no deadline, never overdue.
func EvaluateDeadline(deadline *time.Time, now time.Time) domain.DeadlineStatus {
	if deadline == nil {
		return domain.DeadlineStatus{}
	}

	due := deadline.UTC()
	at := now.UTC()
	dueDay := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	nowDay := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	days := int(dueDay.Sub(nowDay) / (24 * time.Hour))

	return domain.DeadlineStatus{
		HasDeadline:   true,
		Overdue:       days < 0,
		DaysRemaining: days,
	}
}
