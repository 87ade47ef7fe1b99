package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const testFunctionARN = "arn:aws:lambda:ap-southeast-1:123456789012:function:close-assessment"

type fakeEvents struct {
	rules   map[string]*eventbridge.PutRuleInput
	targets map[string][]ebtypes.Target
	failPut bool
}

func (f *fakeEvents) PutRule(_ context.Context, in *eventbridge.PutRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	f.rules[aws.ToString(in.Name)] = in
	return &eventbridge.PutRuleOutput{RuleArn: aws.String("arn:aws:events:ap-southeast-1:123456789012:rule/" + aws.ToString(in.Name))}, nil
}

func (f *fakeEvents) PutTargets(_ context.Context, in *eventbridge.PutTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	if f.failPut {
		return &eventbridge.PutTargetsOutput{
			FailedEntryCount: 1,
			FailedEntries:    []ebtypes.PutTargetsResultEntry{{ErrorCode: aws.String("ValidationException"), ErrorMessage: aws.String("bad arn")}},
		}, nil
	}
	f.targets[aws.ToString(in.Rule)] = in.Targets
	return &eventbridge.PutTargetsOutput{}, nil
}

func (f *fakeEvents) ListTargetsByRule(_ context.Context, in *eventbridge.ListTargetsByRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error) {
	if _, ok := f.rules[aws.ToString(in.Rule)]; !ok {
		return nil, &ebtypes.ResourceNotFoundException{Message: aws.String("Rule does not exist")}
	}
	return &eventbridge.ListTargetsByRuleOutput{Targets: f.targets[aws.ToString(in.Rule)]}, nil
}

func (f *fakeEvents) RemoveTargets(_ context.Context, in *eventbridge.RemoveTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error) {
	delete(f.targets, aws.ToString(in.Rule))
	return &eventbridge.RemoveTargetsOutput{}, nil
}

func (f *fakeEvents) DeleteRule(_ context.Context, in *eventbridge.DeleteRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error) {
	if len(f.targets[aws.ToString(in.Name)]) > 0 {
		return nil, errors.New("rule still has targets")
	}
	delete(f.rules, aws.ToString(in.Name))
	return &eventbridge.DeleteRuleOutput{}, nil
}

type fakeLambda struct {
	statements map[string]*lambda.AddPermissionInput
}

func (f *fakeLambda) AddPermission(_ context.Context, in *lambda.AddPermissionInput, _ ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	id := aws.ToString(in.StatementId)
	if _, ok := f.statements[id]; ok {
		return nil, &lambdatypes.ResourceConflictException{Message: aws.String("statement exists")}
	}
	f.statements[id] = in
	return &lambda.AddPermissionOutput{}, nil
}

func (f *fakeLambda) RemovePermission(_ context.Context, in *lambda.RemovePermissionInput, _ ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error) {
	id := aws.ToString(in.StatementId)
	if _, ok := f.statements[id]; !ok {
		return nil, &lambdatypes.ResourceNotFoundException{Message: aws.String("no statement")}
	}
	delete(f.statements, id)
	return &lambda.RemovePermissionOutput{}, nil
}

func newEventBridgeFixture() (*ClosureScheduler, *fakeEvents, *fakeLambda) {
	ev := &fakeEvents{rules: map[string]*eventbridge.PutRuleInput{}, targets: map[string][]ebtypes.Target{}}
	fn := &fakeLambda{statements: map[string]*lambda.AddPermissionInput{}}
	b := NewEventBridgeBackendWithClients(ev, fn, testFunctionARN)
	return NewClosureScheduler(b, "closure-handler", "events.amazonaws.com", zerolog.Nop()), ev, fn
}

func TestEventBridgeSchedule(t *testing.T) {
	s, ev, fn := newEventBridgeFixture()
	id := uuid.New()
	name := RuleName(id)

	if err := s.Schedule(context.Background(), id, time.Date(2026, 8, 17, 3, 15, 0, 0, time.UTC)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	rule := ev.rules[name]
	if rule == nil || aws.ToString(rule.ScheduleExpression) != "cron(15 3 17 8 ? 2026)" {
		t.Fatalf("unexpected rule %+v", rule)
	}
	targets := ev.targets[name]
	if len(targets) != 1 || aws.ToString(targets[0].Arn) != testFunctionARN {
		t.Fatalf("unexpected targets %+v", targets)
	}
	if want := `{"assessmentId":"` + id.String() + `"}`; aws.ToString(targets[0].Input) != want {
		t.Fatalf("expected input %s, got %s", want, aws.ToString(targets[0].Input))
	}
	stmt := fn.statements[name]
	if stmt == nil || aws.ToString(stmt.Principal) != "events.amazonaws.com" {
		t.Fatalf("permission not granted: %+v", stmt)
	}

	// Retrying the whole sequence is safe: the existing statement is accepted.
	if err := s.Schedule(context.Background(), id, time.Date(2026, 8, 17, 3, 15, 0, 0, time.UTC)); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestEventBridgeFailedTargetEntry(t *testing.T) {
	s, ev, _ := newEventBridgeFixture()
	ev.failPut = true

	err := s.Schedule(context.Background(), uuid.New(), time.Now().Add(time.Hour))
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepPutTarget {
		t.Fatalf("expected put_target StepError, got %v", err)
	}
}

func TestEventBridgeCancel(t *testing.T) {
	s, ev, fn := newEventBridgeFixture()
	ctx := context.Background()
	id := uuid.New()
	_ = s.Schedule(ctx, id, time.Now().Add(time.Hour))

	if err := s.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(ev.rules) != 0 || len(fn.statements) != 0 {
		t.Fatalf("resources left behind: %d rules, %d statements", len(ev.rules), len(fn.statements))
	}
	if err := s.Cancel(ctx, id); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}
