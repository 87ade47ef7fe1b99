package config

import "fmt"

type WorkerKeyStruct struct {
	ClosureQueue       string
	SchedulerRuleIndex string
}

// SchedulerRuleKey holds the definition hash of one local closure rule.
func (w *WorkerKeyStruct) SchedulerRuleKey(name string) string {
	return fmt.Sprintf("scheduler:rule:%s", name)
}

// SchedulerTargetsKey holds targetID -> payload for one local closure rule.
func (w *WorkerKeyStruct) SchedulerTargetsKey(name string) string {
	return fmt.Sprintf("scheduler:rule:%s:targets", name)
}

// SchedulerPermissionsKey holds the rule ARNs allowed to invoke a target.
func (w *WorkerKeyStruct) SchedulerPermissionsKey(targetID string) string {
	return fmt.Sprintf("scheduler:target:%s:permissions", targetID)
}

var WorkerKey = &WorkerKeyStruct{
	ClosureQueue:       "assessment_closure_queue",
	SchedulerRuleIndex: "scheduler:rules:due",
}
