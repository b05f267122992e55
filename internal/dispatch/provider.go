// Package dispatch defines the contract between the notification framework
// and its channel providers: what a provider is handed, what it returns, and
// how outcomes are reported back.
package dispatch

import (
	"context"
	"errors"

	"github.com/shineum/smtp-dispatch/internal/email"
)

// ErrInvalidArgument marks a usage error detected before any I/O: a nil
// email or context, or a provider built from an invalid configuration.
var ErrInvalidArgument = errors.New("invalid argument")

// ChannelProvider is the interface that email delivery backends must
// implement.
type ChannelProvider interface {
	// Dispatch sends msg and returns one result per transmitted message.
	// Reporting to the provider's Reporter happens before it returns.
	Dispatch(ctx context.Context, msg *email.Email, cc *CommunicationContext) ([]Result, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// CommunicationContext identifies the framework-side dispatch a provider
// call belongs to. Providers never inspect it; they pass it to reporters.
type CommunicationContext struct {
	PipelineName  string
	ChannelID     string
	CorrelationID string
	Metadata      map[string]string
}
