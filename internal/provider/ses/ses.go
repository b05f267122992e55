// Package ses implements a ChannelProvider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/message"
)

// ProviderID is the ChannelProviderID stamped on every result.
const ProviderID = "ses"

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the envelope sender. Empty uses the email's From.
	Sender string
}

// Provider sends emails via the AWS SES v2 API as raw MIME messages.
type Provider struct {
	sender   string
	client   SendEmailAPI
	reporter dispatch.Reporter
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a Provider from cfg, loading the default AWS configuration.
// Static credentials are used when both keys are set.
func New(ctx context.Context, cfg Config, reporter dispatch.Reporter) (*Provider, error) {
	if reporter == nil {
		return nil, fmt.Errorf("%w: reporter is nil", dispatch.ErrInvalidArgument)
	}

	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		sender:   cfg.Sender,
		client:   sesv2.NewFromConfig(awsCfg),
		reporter: reporter,
	}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI, reporter dispatch.Reporter) *Provider {
	return &Provider{
		sender:   sender,
		client:   client,
		reporter: reporter,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderID
}

// Dispatch sends msg as a single raw message to every envelope recipient and
// reports the result. API failures are returned and not reported.
func (p *Provider) Dispatch(ctx context.Context, msg *email.Email, cc *dispatch.CommunicationContext) ([]dispatch.Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context is nil", dispatch.ErrInvalidArgument)
	}
	if cc == nil {
		return nil, fmt.Errorf("%w: communication context is nil", dispatch.ErrInvalidArgument)
	}

	out, err := message.Build(msg)
	if err != nil {
		return nil, err
	}
	raw, err := out.Bytes()
	if err != nil {
		return nil, err
	}

	from := out.From
	if p.sender != "" {
		from = p.sender
	}

	resp, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: out.Recipients},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		slog.Warn("SES API error",
			"message_id", out.ID,
			"error", err,
		)
		return nil, err
	}

	sesID := aws.ToString(resp.MessageId)
	slog.Info("email sent via ses",
		"message_id", out.ID,
		"ses_message_id", sesID,
		"recipients", len(out.Recipients),
	)

	results := []dispatch.Result{{
		ResourceID:        out.ID,
		MessageString:     sesID,
		Status:            dispatch.StatusDispatched,
		ChannelProviderID: ProviderID,
	}}
	dispatch.Report(ctx, p.reporter, cc, msg, results)
	return results, nil
}
