package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeRule struct {
	expression string
	fireAt     time.Time
	targets    map[string][]byte
}

// fakeBackend records rules and fails the configured step.
type fakeBackend struct {
	rules  map[string]*fakeRule
	grants map[string][]string
	failOn Step
	calls  []Step
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rules: map[string]*fakeRule{}, grants: map[string][]string{}}
}

var errBackend = errors.New("backend unavailable")

func (f *fakeBackend) PutRule(_ context.Context, name, expression string, fireAt time.Time) (string, error) {
	f.calls = append(f.calls, StepPutRule)
	if f.failOn == StepPutRule {
		return "", errBackend
	}
	r, ok := f.rules[name]
	if !ok {
		r = &fakeRule{targets: map[string][]byte{}}
		f.rules[name] = r
	}
	r.expression, r.fireAt = expression, fireAt
	return "arn:test:rule/" + name, nil
}

func (f *fakeBackend) PutTarget(_ context.Context, ruleName, targetID string, payload []byte) error {
	f.calls = append(f.calls, StepPutTarget)
	if f.failOn == StepPutTarget {
		return errBackend
	}
	f.rules[ruleName].targets[targetID] = payload
	return nil
}

func (f *fakeBackend) GrantInvokePermission(_ context.Context, targetID, _ string, arn string) error {
	f.calls = append(f.calls, StepGrantPermission)
	if f.failOn == StepGrantPermission {
		return errBackend
	}
	f.grants[targetID] = append(f.grants[targetID], arn)
	return nil
}

func (f *fakeBackend) DeleteRule(_ context.Context, name string) error {
	f.calls = append(f.calls, StepDeleteRule)
	if f.failOn == StepDeleteRule {
		return errBackend
	}
	if _, ok := f.rules[name]; !ok {
		return ErrRuleNotFound
	}
	delete(f.rules, name)
	return nil
}

func TestExpression(t *testing.T) {
	tests := []struct {
		name  string
		endAt time.Time
		want  string
	}{
		{"whole minute", time.Date(2026, 3, 9, 7, 45, 0, 0, time.UTC), "cron(45 7 9 3 ? 2026)"},
		{"rounds seconds up", time.Date(2026, 3, 9, 7, 45, 1, 0, time.UTC), "cron(46 7 9 3 ? 2026)"},
		{"rolls over the year", time.Date(2026, 12, 31, 23, 59, 30, 0, time.UTC), "cron(0 0 1 1 ? 2027)"},
		{"converts to UTC", time.Date(2026, 3, 9, 14, 45, 0, 0, time.FixedZone("WIB", 7*3600)), "cron(45 7 9 3 ? 2026)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expression(tt.endAt); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestScheduleCreatesRuleTargetAndGrant(t *testing.T) {
	b := newFakeBackend()
	s := NewClosureScheduler(b, "closure-handler", "events.amazonaws.com", zerolog.Nop())
	id := uuid.New()
	endAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Schedule(context.Background(), id, endAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	r, ok := b.rules[RuleName(id)]
	if !ok {
		t.Fatalf("rule %s not created", RuleName(id))
	}
	if r.expression != "cron(0 10 1 5 ? 2026)" {
		t.Fatalf("unexpected expression %s", r.expression)
	}
	var p Payload
	if err := json.Unmarshal(r.targets["closure-handler"], &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.AssessmentID != id {
		t.Fatalf("payload carries %s, want %s", p.AssessmentID, id)
	}
	if got := b.grants["closure-handler"]; len(got) != 1 || got[0] != "arn:test:rule/"+RuleName(id) {
		t.Fatalf("unexpected grants %v", got)
	}
}

func TestScheduleReportsFailedStep(t *testing.T) {
	for _, step := range []Step{StepPutRule, StepPutTarget, StepGrantPermission} {
		t.Run(string(step), func(t *testing.T) {
			b := newFakeBackend()
			b.failOn = step
			s := NewClosureScheduler(b, "closure-handler", "p", zerolog.Nop())
			id := uuid.New()

			err := s.Schedule(context.Background(), id, time.Now().Add(time.Hour))
			var se *StepError
			if !errors.As(err, &se) {
				t.Fatalf("expected StepError, got %v", err)
			}
			if se.Step != step || se.Rule != RuleName(id) {
				t.Fatalf("expected step %s on %s, got %s on %s", step, RuleName(id), se.Step, se.Rule)
			}
			if !errors.Is(err, errBackend) {
				t.Fatalf("cause lost: %v", err)
			}
			if b.calls[len(b.calls)-1] != step {
				t.Fatalf("calls continued past the failed step: %v", b.calls)
			}
		})
	}
}

func TestRescheduleLeavesOneRuleAtNewTime(t *testing.T) {
	b := newFakeBackend()
	s := NewClosureScheduler(b, "closure-handler", "p", zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()
	first := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(90 * time.Minute)

	if err := s.Schedule(ctx, id, first); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	b.calls = nil
	if err := s.Reschedule(ctx, id, second); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	if len(b.rules) != 1 {
		t.Fatalf("expected exactly one rule, got %d", len(b.rules))
	}
	r := b.rules[RuleName(id)]
	if !r.fireAt.Equal(second) || r.expression != "cron(30 11 1 5 ? 2026)" {
		t.Fatalf("rule still at old time: %s %s", r.fireAt, r.expression)
	}
	if len(b.calls) != 1 || b.calls[0] != StepPutRule {
		t.Fatalf("reschedule should only re-put the rule, got %v", b.calls)
	}
	if len(r.targets) != 1 {
		t.Fatalf("target lost on reschedule")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := newFakeBackend()
	s := NewClosureScheduler(b, "closure-handler", "p", zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()

	if err := s.Schedule(ctx, id, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Cancel(ctx, id); err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
	}
	if len(b.rules) != 0 {
		t.Fatalf("rule not removed")
	}

	b.failOn = StepDeleteRule
	var se *StepError
	if err := s.Cancel(ctx, id); !errors.As(err, &se) || se.Step != StepDeleteRule {
		t.Fatalf("expected delete_rule StepError, got %v", err)
	}
}
