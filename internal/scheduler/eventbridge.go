package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// EventsAPI is the subset of the EventBridge client the backend uses.
type EventsAPI interface {
	PutRule(ctx context.Context, in *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, in *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
	ListTargetsByRule(ctx context.Context, in *eventbridge.ListTargetsByRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error)
	RemoveTargets(ctx context.Context, in *eventbridge.RemoveTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error)
	DeleteRule(ctx context.Context, in *eventbridge.DeleteRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error)
}

// LambdaAPI is the subset of the Lambda client the backend uses.
type LambdaAPI interface {
	AddPermission(ctx context.Context, in *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	RemovePermission(ctx context.Context, in *lambda.RemovePermissionInput, optFns ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error)
}

// EventBridgeBackend arms closure rules as EventBridge scheduled rules that invoke
// the closure handler Lambda.
type EventBridgeBackend struct {
	events      EventsAPI
	lambda      LambdaAPI
	functionARN string
}

// NewEventBridgeBackend creates an EventBridgeBackend targeting functionARN.
func NewEventBridgeBackend(cfg aws.Config, functionARN string) *EventBridgeBackend {
	return NewEventBridgeBackendWithClients(eventbridge.NewFromConfig(cfg), lambda.NewFromConfig(cfg), functionARN)
}

// NewEventBridgeBackendWithClients creates an EventBridgeBackend over explicit clients.
func NewEventBridgeBackendWithClients(events EventsAPI, fn LambdaAPI, functionARN string) *EventBridgeBackend {
	return &EventBridgeBackend{events: events, lambda: fn, functionARN: functionARN}
}

func (b *EventBridgeBackend) PutRule(ctx context.Context, name, expression string, fireAt time.Time) (string, error) {
	out, err := b.events.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(name),
		ScheduleExpression: aws.String(expression),
		State:              ebtypes.RuleStateEnabled,
		Description:        aws.String("Closes the assessment at " + fireAt.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.RuleArn), nil
}

func (b *EventBridgeBackend) PutTarget(ctx context.Context, ruleName, targetID string, payload []byte) error {
	out, err := b.events.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(ruleName),
		Targets: []ebtypes.Target{{
			Id:    aws.String(targetID),
			Arn:   aws.String(b.functionARN),
			Input: aws.String(string(payload)),
		}},
	})
	if err != nil {
		return err
	}
	if out.FailedEntryCount > 0 && len(out.FailedEntries) > 0 {
		e := out.FailedEntries[0]
		return fmt.Errorf("%s: %s", aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	return nil
}

// statementID derives a per-rule Lambda policy statement from the rule ARN.
func statementID(sourceRuleARN string) string {
	if i := strings.LastIndex(sourceRuleARN, "/"); i >= 0 {
		return sourceRuleARN[i+1:]
	}
	return sourceRuleARN
}

// GrantInvokePermission adds a resource policy statement on the handler. An
// existing statement for the same rule counts as granted.
func (b *EventBridgeBackend) GrantInvokePermission(ctx context.Context, _ string, principal, sourceRuleARN string) error {
	_, err := b.lambda.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(b.functionARN),
		StatementId:  aws.String(statementID(sourceRuleARN)),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String(principal),
		SourceArn:    aws.String(sourceRuleARN),
	})
	var conflict *lambdatypes.ResourceConflictException
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}

// DeleteRule detaches every target, revokes the handler permission and deletes the rule.
func (b *EventBridgeBackend) DeleteRule(ctx context.Context, name string) error {
	listed, err := b.events.ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{Rule: aws.String(name)})
	if err != nil {
		if isNotFound(err) {
			return ErrRuleNotFound
		}
		return err
	}
	if len(listed.Targets) > 0 {
		ids := make([]string, 0, len(listed.Targets))
		for _, t := range listed.Targets {
			ids = append(ids, aws.ToString(t.Id))
		}
		if _, err := b.events.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{Rule: aws.String(name), Ids: ids}); err != nil {
			return err
		}
	}

	_, err = b.lambda.RemovePermission(ctx, &lambda.RemovePermissionInput{
		FunctionName: aws.String(b.functionARN),
		StatementId:  aws.String(name),
	})
	var missing *lambdatypes.ResourceNotFoundException
	if err != nil && !errors.As(err, &missing) {
		return err
	}

	if _, err := b.events.DeleteRule(ctx, &eventbridge.DeleteRuleInput{Name: aws.String(name)}); err != nil {
		if isNotFound(err) {
			return ErrRuleNotFound
		}
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *ebtypes.ResourceNotFoundException
	return errors.As(err, &nf)
}
