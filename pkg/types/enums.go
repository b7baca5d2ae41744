// Package types defines the public domain types for the Conveyor pipeline orchestrator.
package types

// DefaultPipeline is the implicit pipeline name when none is configured.
const DefaultPipeline = "default"

// Outcome represents the terminal result of a single stage.
type Outcome string

// Outcome values enumerate the possible stage results.
const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeUnstable  Outcome = "UNSTABLE"
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeCancelled Outcome = "CANCELLED"
)

// outcomeSeverity orders outcomes from least to most severe for aggregation.
var outcomeSeverity = map[Outcome]int{
	OutcomeSkipped:   0,
	OutcomeSuccess:   1,
	OutcomeUnstable:  2,
	OutcomeCancelled: 3,
	OutcomeFailure:   4,
}

// WorstOutcome returns the most severe of the given outcomes. An empty input
// yields OutcomeSkipped.
func WorstOutcome(outcomes ...Outcome) Outcome {
	worst := OutcomeSkipped
	for _, o := range outcomes {
		if outcomeSeverity[o] > outcomeSeverity[worst] {
			worst = o
		}
	}
	return worst
}

// IsTerminalOutcome returns true for every Outcome value; it exists so callers
// can reject in-progress sentinel strings coming off the wire.
func IsTerminalOutcome(o Outcome) bool {
	_, ok := outcomeSeverity[o]
	return ok
}

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

// RunStatus values represent the lifecycle states of a pipeline run.
const (
	RunPending          RunStatus = "PENDING"
	RunRunning          RunStatus = "RUNNING"
	RunAwaitingApproval RunStatus = "AWAITING_APPROVAL"
	RunSucceeded        RunStatus = "SUCCEEDED"
	RunUnstable         RunStatus = "UNSTABLE"
	RunFailed           RunStatus = "FAILED"
	RunCancelled        RunStatus = "CANCELLED"
)

// NotificationEvent classifies the single notification emitted at run end.
type NotificationEvent string

// NotificationEvent values enumerate the outcome-dependent notification kinds.
const (
	NotifySuccess  NotificationEvent = "SUCCESS"
	NotifyFailure  NotificationEvent = "FAILURE"
	NotifyUnstable NotificationEvent = "UNSTABLE"
)

// ApprovalDecision is the resolution of a pending approval gate.
type ApprovalDecision string

// ApprovalDecision values enumerate how an approval wait can resolve.
const (
	ApprovalApproved  ApprovalDecision = "APPROVED"
	ApprovalRejected  ApprovalDecision = "REJECTED"
	ApprovalTimedOut  ApprovalDecision = "TIMED_OUT"
	ApprovalCancelled ApprovalDecision = "CANCELLED"
)

// NotifierType defines the notification sink backend.
type NotifierType string

// NotifierType values enumerate the supported notification sinks.
const (
	NotifierConsole NotifierType = "console"
	NotifierFile    NotifierType = "file"
	NotifierWebhook NotifierType = "webhook"
	NotifierSNS     NotifierType = "sns"
)

// EventKind classifies the type of audit event.
type EventKind string

// EventKind values enumerate the categories of recorded events.
const (
	EventRunStateChanged    EventKind = "RUN_STATE_CHANGED"
	EventStageStarted       EventKind = "STAGE_STARTED"
	EventStageCompleted     EventKind = "STAGE_COMPLETED"
	EventStageSkipped       EventKind = "STAGE_SKIPPED"
	EventApprovalRequested  EventKind = "APPROVAL_REQUESTED"
	EventApprovalResolved   EventKind = "APPROVAL_RESOLVED"
	EventNotificationSent   EventKind = "NOTIFICATION_SENT"
	EventNotificationFailed EventKind = "NOTIFICATION_FAILED"
	EventRunArchived        EventKind = "RUN_ARCHIVED"
)
