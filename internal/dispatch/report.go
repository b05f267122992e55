package dispatch

import (
	"context"
	"log/slog"

	"github.com/shineum/smtp-dispatch/internal/email"
)

// Reporter receives delivery reports from providers.
type Reporter interface {
	Dispatched(ctx context.Context, cc *CommunicationContext, msg *email.Email, results []Result)
	Error(ctx context.Context, cc *CommunicationContext, msg *email.Email, results []Result)
}

// ReportFunc is the signature of a single delivery report callback.
type ReportFunc func(ctx context.Context, cc *CommunicationContext, msg *email.Email, results []Result)

// ReporterFuncs adapts a pair of functions to a Reporter. A nil field
// discards that kind of report.
type ReporterFuncs struct {
	OnDispatched ReportFunc
	OnError      ReportFunc
}

// Dispatched implements Reporter.
func (f ReporterFuncs) Dispatched(ctx context.Context, cc *CommunicationContext, msg *email.Email, results []Result) {
	if f.OnDispatched != nil {
		f.OnDispatched(ctx, cc, msg, results)
	}
}

// Error implements Reporter.
func (f ReporterFuncs) Error(ctx context.Context, cc *CommunicationContext, msg *email.Email, results []Result) {
	if f.OnError != nil {
		f.OnError(ctx, cc, msg, results)
	}
}

// Report invokes exactly one callback on r, chosen by the status of the
// first result, and passes it the whole result set. Empty result sets and
// unknown statuses are not reported.
func Report(ctx context.Context, r Reporter, cc *CommunicationContext, msg *email.Email, results []Result) {
	if len(results) == 0 {
		return
	}

	switch results[0].Status {
	case StatusException:
		r.Error(ctx, cc, msg, results)
	case StatusDispatched:
		r.Dispatched(ctx, cc, msg, results)
	}
}

// LogReporter writes every delivery report to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a LogReporter using logger, or the default logger
// when nil.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Dispatched logs each result at info level.
func (l *LogReporter) Dispatched(ctx context.Context, cc *CommunicationContext, msg *email.Email, results []Result) {
	l.log(ctx, slog.LevelInfo, "email dispatched", cc, msg, results)
}

// Error logs each result at error level.
func (l *LogReporter) Error(ctx context.Context, cc *CommunicationContext, msg *email.Email, results []Result) {
	l.log(ctx, slog.LevelError, "email dispatch failed", cc, msg, results)
}

func (l *LogReporter) log(ctx context.Context, level slog.Level, text string, cc *CommunicationContext, msg *email.Email, results []Result) {
	for _, r := range results {
		l.logger.LogAttrs(ctx, level, text,
			slog.String("pipeline", cc.PipelineName),
			slog.String("channel", cc.ChannelID),
			slog.String("correlation_id", cc.CorrelationID),
			slog.String("provider", r.ChannelProviderID),
			slog.String("resource_id", r.ResourceID),
			slog.String("status", r.Status.String()),
			slog.String("response", r.MessageString),
			slog.Int("recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc)),
		)
	}
}
