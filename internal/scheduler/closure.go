// Package scheduler arms an external time trigger per assessment so the exam is
// closed at its deadline even when no client is talking to the server.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrRuleNotFound is returned by a Backend when the named rule does not exist.
var ErrRuleNotFound = errors.New("scheduler: rule not found")

// Backend is the external scheduler capability. Every call must be idempotent:
// rules are keyed by name and re-putting one overwrites it in place.
type Backend interface {
	// PutRule creates or updates a rule and returns its handle (ARN).
	PutRule(ctx context.Context, name, expression string, fireAt time.Time) (string, error)
	PutTarget(ctx context.Context, ruleName, targetID string, payload []byte) error
	GrantInvokePermission(ctx context.Context, targetID, principal, sourceRuleARN string) error
	DeleteRule(ctx context.Context, name string) error
}

// Step names one external call of a multi-step operation.
type Step string

const (
	StepPutRule         Step = "put_rule"
	StepPutTarget       Step = "put_target"
	StepGrantPermission Step = "grant_permission"
	StepDeleteRule      Step = "delete_rule"
)

// StepError reports which external call failed. Earlier steps of the same
// operation may have succeeded; callers decide whether to retry or clean up.
type StepError struct {
	Step Step
	Rule string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("scheduler %s %s: %v", e.Step, e.Rule, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Payload is delivered to the closure handler when a rule fires.
type Payload struct {
	AssessmentID uuid.UUID `json:"assessmentId"`
}

// RuleName is the external rule name of an assessment.
func RuleName(assessmentID uuid.UUID) string {
	return "assessment-end-" + assessmentID.String()
}

// FireTime is the minute the rule fires for endAt. Triggers have minute
// resolution, so a deadline with seconds rounds up to never fire early.
func FireTime(endAt time.Time) time.Time {
	t := endAt.UTC()
	m := t.Truncate(time.Minute)
	if m.Equal(t) {
		return m
	}
	return m.Add(time.Minute)
}

// Expression renders a one-shot trigger as cron(minute hour day month ? year) in UTC.
func Expression(endAt time.Time) string {
	t := FireTime(endAt)
	return fmt.Sprintf("cron(%d %d %d %d ? %d)", t.Minute(), t.Hour(), t.Day(), int(t.Month()), t.Year())
}

// ClosureScheduler manages the closure rule of each assessment.
type ClosureScheduler struct {
	backend   Backend
	targetID  string
	principal string
	log       zerolog.Logger
}

// NewClosureScheduler creates a ClosureScheduler. targetID identifies the closure
// handler and principal is the identity the rule invokes it as.
func NewClosureScheduler(backend Backend, targetID, principal string, log zerolog.Logger) *ClosureScheduler {
	return &ClosureScheduler{
		backend:   backend,
		targetID:  targetID,
		principal: principal,
		log:       log.With().Str("component", "closure_scheduler").Logger(),
	}
}

// Schedule arms the closure rule: create the rule, attach the handler, grant invocation.
func (s *ClosureScheduler) Schedule(ctx context.Context, assessmentID uuid.UUID, endAt time.Time) error {
	name := RuleName(assessmentID)
	expr := Expression(endAt)

	arn, err := s.backend.PutRule(ctx, name, expr, FireTime(endAt))
	if err != nil {
		return &StepError{Step: StepPutRule, Rule: name, Err: err}
	}

	payload, err := json.Marshal(Payload{AssessmentID: assessmentID})
	if err != nil {
		return &StepError{Step: StepPutTarget, Rule: name, Err: err}
	}
	if err := s.backend.PutTarget(ctx, name, s.targetID, payload); err != nil {
		return &StepError{Step: StepPutTarget, Rule: name, Err: err}
	}

	if err := s.backend.GrantInvokePermission(ctx, s.targetID, s.principal, arn); err != nil {
		return &StepError{Step: StepGrantPermission, Rule: name, Err: err}
	}

	s.log.Info().Str("rule", name).Str("expression", expr).Msg("Closure rule armed")
	return nil
}

// Reschedule moves an armed rule to a new end time. Target and permission are kept.
func (s *ClosureScheduler) Reschedule(ctx context.Context, assessmentID uuid.UUID, endAt time.Time) error {
	name := RuleName(assessmentID)
	expr := Expression(endAt)
	if _, err := s.backend.PutRule(ctx, name, expr, FireTime(endAt)); err != nil {
		return &StepError{Step: StepPutRule, Rule: name, Err: err}
	}
	s.log.Info().Str("rule", name).Str("expression", expr).Msg("Closure rule moved")
	return nil
}

// Cancel removes the rule. A rule that does not exist counts as removed.
func (s *ClosureScheduler) Cancel(ctx context.Context, assessmentID uuid.UUID) error {
	name := RuleName(assessmentID)
	if err := s.backend.DeleteRule(ctx, name); err != nil && !errors.Is(err, ErrRuleNotFound) {
		return &StepError{Step: StepDeleteRule, Rule: name, Err: err}
	}
	s.log.Info().Str("rule", name).Msg("Closure rule removed")
	return nil
}
