// Package stdout implements a ChannelProvider that prints emails to standard
// output instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/message"
)

// ProviderID is the ChannelProviderID stamped on every result.
const ProviderID = "stdout"

// Provider prints email messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer   io.Writer
	reporter dispatch.Reporter
}

// New creates a new stdout Provider that writes to os.Stdout.
func New(reporter dispatch.Reporter) *Provider {
	return &Provider{writer: os.Stdout, reporter: reporter}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer, reporter dispatch.Reporter) *Provider {
	return &Provider{writer: w, reporter: reporter}
}

// Dispatch prints msg and reports it as dispatched under a fresh message id.
func (p *Provider) Dispatch(ctx context.Context, msg *email.Email, cc *dispatch.CommunicationContext) ([]dispatch.Result, error) {
	if ctx == nil || cc == nil {
		return nil, fmt.Errorf("%w: nil context or communication context", dispatch.ErrInvalidArgument)
	}
	if err := message.Validate(msg); err != nil {
		return nil, err
	}

	id := message.NewMessageID(msg.From.Value)
	if _, err := io.WriteString(p.writer, render(id, msg)); err != nil {
		return nil, fmt.Errorf("failed to write email: %w", err)
	}
	slog.Debug("email printed", "message_id", id)

	results := []dispatch.Result{{
		ResourceID:        id,
		MessageString:     "printed",
		Status:            dispatch.StatusDispatched,
		ChannelProviderID: ProviderID,
	}}
	if p.reporter != nil {
		dispatch.Report(ctx, p.reporter, cc, msg, results)
	}
	return results, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderID
}

func render(id string, msg *email.Email) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Message-ID: <%s>\n", id)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(msg.To))

	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(msg.Bcc))
	}
	if len(msg.ReplyTo) > 0 {
		fmt.Fprintf(&b, "Reply-To: %s\n", joinAddresses(msg.ReplyTo))
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := lo.Map(msg.Attachments, func(att email.Attachment, _ int) string {
			mediaType, subType := message.ResolveContentType(att.ContentType)
			desc := mediaType + "/" + subType
			// Only in-memory readers know their size up front.
			if l, ok := att.Content.(interface{ Len() int }); ok {
				desc += ", " + formatSize(l.Len())
			}
			return fmt.Sprintf("%s (%s)", att.Name, desc)
		})
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")
	return b.String()
}

func joinAddresses(addrs []email.Address) string {
	return strings.Join(lo.Map(addrs, func(a email.Address, _ int) string {
		return a.String()
	}), ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
