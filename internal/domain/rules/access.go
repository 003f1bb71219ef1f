package rules

import (
	"errors"
	"time"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
)

var ErrEmptyCatalog = errors.New("lesson catalog is empty")

type DenialReason string

const (
	DeniedNoCohort   DenialReason = "no_cohort"
	DeniedTrialEnded DenialReason = "trial_ended"
	DeniedExpired    DenialReason = "expired"
)

type Decision struct {
	Allowed  bool
	Reason   DenialReason
	DayIndex int
}

// EvaluateAccess is the single source of truth for "may this subscriber
// receive content right now, and which lesson day". It is a pure function
// of the record, the catalog length for the subscriber's cohort, the trial
// length and the clock. Both the daily broadcast and every interactive path
// must go through it.
func EvaluateAccess(sub model.Subscriber, catalogLen, trialDays int, now time.Time) (Decision, error) {
	if !sub.Cohort.Selected() || sub.TrialStartedAt == nil {
		return Decision{Reason: DeniedNoCohort}, nil
	}

	if !sub.Tier.Active(now, sub.ExpiresAt) {
		if sub.Tier == enums.TierMonthly {
			return Decision{Reason: DeniedExpired}, nil
		}
		// Any other inactive tier, including the empty zero value of a
		// record that never bought anything, is gated by the trial.
		trialEnd := sub.TrialStartedAt.Add(time.Duration(trialDays) * 24 * time.Hour)
		if !now.Before(trialEnd) {
			return Decision{Reason: DeniedTrialEnded}, nil
		}
	}

	if catalogLen < 1 {
		return Decision{}, ErrEmptyCatalog
	}

	day := int(now.Sub(*sub.TrialStartedAt)/(24*time.Hour))%catalogLen + 1
	return Decision{Allowed: true, DayIndex: day}, nil
}

// DeliveryDayKey is the calendar date used for the at-most-once-per-day
// delivery stamp, in the broadcast civil timezone.
func DeliveryDayKey(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}
