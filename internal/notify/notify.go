// Package notify computes the single end-of-run notification and delivers it
// to the configured sinks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dwsmith1983/conveyor/internal/metrics"
	"github.com/dwsmith1983/conveyor/pkg/types"
)

// Notification is the message delivered once per run, after every stage has
// reached a terminal state.
type Notification struct {
	Event       types.NotificationEvent `json:"event"`
	Pipeline    string                  `json:"pipeline"`
	RunID       string                  `json:"runId"`
	BuildNumber int                     `json:"buildNumber"`
	Branch      string                  `json:"branch"`
	Subject     string                  `json:"subject"`
	Body        string                  `json:"body"`
	Recipients  []string                `json:"recipients,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

// Determine folds the run's finalized stage results into exactly one
// notification event. Priority order, first match wins: a cancelled run, any
// required failure, or a cancelled stage is FAILURE; any unstable or advisory
// failure is UNSTABLE; otherwise SUCCESS. The cancelled flag covers runs
// stopped between stages, where every result is merely SKIPPED.
func Determine(results []types.StageResult, cancelled bool) types.NotificationEvent {
	if cancelled {
		return types.NotifyFailure
	}
	unstable := false
	for _, r := range results {
		switch types.EffectiveOutcome(r) {
		case types.OutcomeFailure, types.OutcomeCancelled:
			return types.NotifyFailure
		case types.OutcomeUnstable:
			unstable = true
		}
	}
	if unstable {
		return types.NotifyUnstable
	}
	return types.NotifySuccess
}

// Build composes the subject and body for a finished run. The body always
// carries the run identifier, build counter, log reference, and elapsed
// duration; the closing line depends on the event.
func Build(run types.PipelineRun, event types.NotificationEvent, logURLBase string, recipients []string) Notification {
	now := time.Now()
	subject := fmt.Sprintf("%s: %s #%d", event, run.Pipeline, run.BuildNumber)

	logURL := fmt.Sprintf("%s/runs/%s", logURLBase, run.RunID)
	if logURLBase == "" {
		logURL = "run " + run.RunID
	}

	body := fmt.Sprintf("Job: %s\nRun: %s\nBuild: #%d\nBranch: %s\nDuration: %s\nLogs: %s\n",
		run.Pipeline, run.RunID, run.BuildNumber, run.Branch,
		run.Duration(now).Round(time.Second), logURL)

	if run.Approver != "" {
		body += fmt.Sprintf("Approved by: %s\n", run.Approver)
	}

	switch {
	case run.Status == types.RunCancelled:
		body += "The run was cancelled before completion.\n"
	case event == types.NotifySuccess:
		body += "Deployment completed successfully.\n"
	case event == types.NotifyFailure:
		body += fmt.Sprintf("The run failed. Check the logs at %s for details.\n", logURL)
	case event == types.NotifyUnstable:
		body += "Some checks did not pass cleanly. Review the advisory stage reports.\n"
	}

	return Notification{
		Event:       event,
		Pipeline:    run.Pipeline,
		RunID:       run.RunID,
		BuildNumber: run.BuildNumber,
		Branch:      run.Branch,
		Subject:     subject,
		Body:        body,
		Recipients:  recipients,
		Timestamp:   now,
	}
}

// Sink is a notification destination.
type Sink interface {
	Send(ctx context.Context, n Notification) error
	Name() string
}

// Dispatcher routes the end-of-run notification to all configured sinks.
// Delivery is best-effort: a failed sink gets exactly one retry, then the
// failure is logged and dropped. Delivery failures never alter the run's
// recorded result.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from sink configs.
func NewDispatcher(configs []types.NotifierConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// NewDispatcherWithSinks creates a dispatcher over pre-built sinks.
func NewDispatcherWithSinks(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Dispatch sends the notification to every sink.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, n); err != nil {
			metrics.NotificationRetries.Add(1)
			d.logger.Warn("notification delivery failed, retrying once",
				"sink", sink.Name(), "runId", n.RunID, "error", err)
			if err := sink.Send(ctx, n); err != nil {
				metrics.NotificationsFailed.Add(1)
				d.logger.Warn("notification dropped after retry",
					"sink", sink.Name(), "runId", n.RunID, "error", err)
				continue
			}
		}
		metrics.NotificationsSent.Add(1)
	}
}

func newSink(cfg types.NotifierConfig) (Sink, error) {
	switch cfg.Type {
	case types.NotifierConsole:
		return NewConsoleSink(), nil
	case types.NotifierFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.NotifierWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.NotifierSNS:
		if cfg.TopicARN == "" {
			return nil, fmt.Errorf("SNS topic ARN required")
		}
		return NewSNSSink(cfg.TopicARN)
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
}
