// Package smtp implements a ChannelProvider that delivers email through an
// authenticated SMTP relay.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/message"
)

// ProviderID is the ChannelProviderID stamped on every result.
const ProviderID = "smtp"

const tracerName = "github.com/shineum/smtp-dispatch/internal/provider/smtp"

// Provider sends each email over its own SMTP session. It holds no
// connection between calls and is safe for concurrent use.
type Provider struct {
	cfg      Config
	reporter dispatch.Reporter
	tracer   trace.Tracer
}

// New validates cfg and returns a Provider that reports to reporter.
func New(cfg Config, reporter dispatch.Reporter) (*Provider, error) {
	if reporter == nil {
		return nil, fmt.Errorf("%w: reporter is nil", dispatch.ErrInvalidArgument)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Provider{
		cfg:      cfg,
		reporter: reporter,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Name returns "smtp".
func (p *Provider) Name() string {
	return ProviderID
}

// Dispatch builds msg, sends it in a single session and reports the result
// before returning it. Failures are returned as errors and are not reported.
func (p *Provider) Dispatch(ctx context.Context, msg *email.Email, cc *dispatch.CommunicationContext) ([]dispatch.Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context is nil", dispatch.ErrInvalidArgument)
	}
	if cc == nil {
		return nil, fmt.Errorf("%w: communication context is nil", dispatch.ErrInvalidArgument)
	}

	ctx, span := p.tracer.Start(ctx, "smtp.Dispatch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	out, err := message.Build(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build message")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("smtp.host", p.cfg.Host),
		attribute.Int("smtp.port", p.cfg.port()),
		attribute.String("smtp.security", p.cfg.SecurityMode().String()),
		attribute.String("email.message_id", out.ID),
		attribute.Int("email.recipients", len(out.Recipients)),
	)

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := transmit(ctx, p.cfg, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transmit")
		slog.Debug("smtp dispatch failed",
			"host", p.cfg.Host,
			"message_id", out.ID,
			"error", err,
		)
		return nil, err
	}

	slog.Info("email sent via smtp",
		"host", p.cfg.Host,
		"message_id", out.ID,
		"recipients", len(out.Recipients),
		"duration", time.Since(start),
	)

	results := []dispatch.Result{{
		ResourceID:        out.ID,
		MessageString:     resp,
		Status:            dispatch.StatusDispatched,
		ChannelProviderID: ProviderID,
	}}
	dispatch.Report(ctx, p.reporter, cc, msg, results)
	return results, nil
}
