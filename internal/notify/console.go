package notify

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/dwsmith1983/conveyor/pkg/types"
)

// ConsoleSink writes notifications to the terminal with color.
type ConsoleSink struct{}

// NewConsoleSink creates a new console notification sink.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes the notification with color-coded severity.
func (s *ConsoleSink) Send(_ context.Context, n Notification) error {
	var prefix string
	switch n.Event {
	case types.NotifyFailure:
		prefix = color.RedString("[FAILURE]")
	case types.NotifyUnstable:
		prefix = color.YellowString("[UNSTABLE]")
	default:
		prefix = color.GreenString("[SUCCESS]")
	}

	fmt.Printf("%s %s\n%s", prefix, n.Subject, n.Body)
	return nil
}
