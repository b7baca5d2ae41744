// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	RunsStarted         = expvar.NewInt("runs_started")
	RunsSucceeded       = expvar.NewInt("runs_succeeded")
	RunsUnstable        = expvar.NewInt("runs_unstable")
	RunsFailed          = expvar.NewInt("runs_failed")
	RunsCancelled       = expvar.NewInt("runs_cancelled")
	StagesExecuted      = expvar.NewInt("stages_executed")
	StagesSkipped       = expvar.NewInt("stages_skipped")
	ApprovalsRequested  = expvar.NewInt("approvals_requested")
	ApprovalsTimedOut   = expvar.NewInt("approvals_timed_out")
	NotificationsSent   = expvar.NewInt("notifications_sent")
	NotificationsFailed = expvar.NewInt("notifications_failed")
	NotificationRetries = expvar.NewInt("notification_retries")
	RunsArchived        = expvar.NewInt("runs_archived")
)
