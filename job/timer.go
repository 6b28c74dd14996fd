package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/flowcore"
)

// cronParser accepts standard five-field expressions and descriptors such
// as "@every 1h" or "@daily".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateRepeat reports whether expr is a usable repeat cycle.
func ValidateRepeat(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return flowcore.Configurationf("invalid repeat %q: %v", expr, err)
	}
	return nil
}

// NextOccurrence returns when a repeating timer is next due after from.
func NextOccurrence(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, flowcore.Configurationf("invalid repeat %q: %v", expr, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("job: repeat %q has no occurrence after %s", expr, from)
	}
	return next, nil
}

// TimerSpec describes a timer to create.
type TimerSpec struct {
	Type                string
	DueDate             time.Time
	Repeat              string
	ExecutionID         string
	ProcessInstanceID   string
	ProcessDefinitionID string
	Exclusive           bool
	TenantID            string
	Retries             int
	// Config is JSON-encoded into the job's HandlerConfig.
	Config any
}

// NewTimer builds a timer job from spec. A repeating timer without a due
// date is first due at the cycle's next occurrence after now.
func NewTimer(spec TimerSpec, now time.Time) (*Job, error) {
	if spec.Type == "" {
		return nil, flowcore.Configurationf("timer without a job type")
	}
	if err := ValidateRepeat(spec.Repeat); err != nil {
		return nil, err
	}
	j := &Job{
		Type:                spec.Type,
		Kind:                KindTimer,
		DueDate:             spec.DueDate,
		Repeat:              spec.Repeat,
		ExecutionID:         spec.ExecutionID,
		ProcessInstanceID:   spec.ProcessInstanceID,
		ProcessDefinitionID: spec.ProcessDefinitionID,
		Exclusive:           spec.Exclusive,
		TenantID:            spec.TenantID,
		Retries:             spec.Retries,
	}
	if j.DueDate.IsZero() && j.Repeat != "" {
		next, err := NextOccurrence(j.Repeat, now)
		if err != nil {
			return nil, err
		}
		j.DueDate = next
	}
	if spec.Config != nil {
		raw, err := json.Marshal(spec.Config)
		if err != nil {
			return nil, fmt.Errorf("job: encode timer config: %w", err)
		}
		j.HandlerConfig = raw
	}
	return j, nil
}

// NextTimer returns the follow-up of a repeating timer that fired at
// firedAt, or nil for a one-shot job. The follow-up gets a fresh id and the
// retry budget, with no lock and no recorded failure.
func NextTimer(fired *Job, firedAt time.Time, retries int) (*Job, error) {
	if fired.Kind != KindTimer || fired.Repeat == "" {
		return nil, nil
	}
	due, err := NextOccurrence(fired.Repeat, firedAt)
	if err != nil {
		return nil, err
	}
	return &Job{
		Type:                fired.Type,
		Kind:                KindTimer,
		DueDate:             due,
		Repeat:              fired.Repeat,
		ExecutionID:         fired.ExecutionID,
		ProcessInstanceID:   fired.ProcessInstanceID,
		ProcessDefinitionID: fired.ProcessDefinitionID,
		Exclusive:           fired.Exclusive,
		TenantID:            fired.TenantID,
		Retries:             retries,
		HandlerConfig:       append([]byte(nil), fired.HandlerConfig...),
	}, nil
}
