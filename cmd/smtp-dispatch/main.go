// Package main is the entry point for the email dispatch CLI. It assembles
// one email from flags and hands it to the configured channel provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/shineum/smtp-dispatch/internal/config"
	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/provider/ses"
	"github.com/shineum/smtp-dispatch/internal/provider/smtp"
	"github.com/shineum/smtp-dispatch/internal/provider/stdout"
	smtptls "github.com/shineum/smtp-dispatch/internal/tls"
)

// options holds the parsed command line.
type options struct {
	configPath string
	from       string
	fromName   string
	to         addressFlag
	cc         addressFlag
	bcc        addressFlag
	replyTo    addressFlag
	subject    string
	textFile   string
	htmlFile   string
	attach     attachFlag
	pipeline   string
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Cancel the dispatch on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("dispatch failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts *options) error {
	msg, closeAttachments, err := buildEmail(cfg, opts)
	if err != nil {
		return err
	}
	defer closeAttachments()

	reporter := dispatch.NewLogReporter(slog.Default())
	prov, err := selectProvider(ctx, cfg, reporter)
	if err != nil {
		return err
	}

	cc := &dispatch.CommunicationContext{
		PipelineName:  opts.pipeline,
		ChannelID:     prov.Name(),
		CorrelationID: uuid.NewString(),
	}

	slog.Info("dispatching email",
		"provider", prov.Name(),
		"correlation_id", cc.CorrelationID,
		"recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc),
	)

	results, err := prov.Dispatch(ctx, msg, cc)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Println(r.ResourceID)
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&opts.from, "from", "", "sender address (defaults to MAIL_FROM)")
	fs.StringVar(&opts.fromName, "from-name", "", "sender display name (defaults to MAIL_FROM_NAME)")
	fs.Var(&opts.to, "to", "comma-separated To recipients")
	fs.Var(&opts.cc, "cc", "comma-separated Cc recipients")
	fs.Var(&opts.bcc, "bcc", "comma-separated Bcc recipients")
	fs.Var(&opts.replyTo, "reply-to", "comma-separated Reply-To addresses")
	fs.StringVar(&opts.subject, "subject", "", "message subject")
	fs.StringVar(&opts.textFile, "text", "", "path to the plain text body")
	fs.StringVar(&opts.htmlFile, "html", "", "path to the HTML body")
	fs.Var(&opts.attach, "attach", "attachment as path[;type/subtype] (repeatable)")
	fs.StringVar(&opts.pipeline, "pipeline", "cli", "pipeline name reported with the result")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider builds the delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config, reporter dispatch.Reporter) (dispatch.ChannelProvider, error) {
	switch cfg.Provider {
	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("smtp provider selected but SMTP_HOST, SMTP_USERNAME and SMTP_PASSWORD are required")
		}
		smtpCfg := smtp.Config{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			UseSSL:    cfg.SMTP.UseSSL,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			LocalName: cfg.SMTP.LocalName,
			Timeout:   cfg.SMTP.Timeout,
		}
		if cfg.SMTP.CAFile != "" {
			pool, err := smtptls.LoadCertPool(cfg.SMTP.CAFile)
			if err != nil {
				return nil, err
			}
			smtpCfg.TLSConfig = smtptls.RootsConfig(pool)
		}
		slog.Info("using smtp provider",
			"host", smtpCfg.Host,
			"port", smtpCfg.Port,
			"security", smtpCfg.SecurityMode().String(),
		)
		return smtp.New(smtpCfg, reporter)

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		}, reporter)

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(reporter), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// buildEmail assembles the email from flags, falling back to the configured
// sender. The returned func closes opened attachment files.
func buildEmail(cfg *config.Config, opts *options) (*email.Email, func(), error) {
	noop := func() {}

	from := email.Address{Value: opts.from, Display: opts.fromName}
	if from.Value == "" {
		from.Value = cfg.Sender.Address
	}
	if from.Display == "" {
		from.Display = cfg.Sender.Name
	}

	msg := &email.Email{
		From:    from,
		To:      opts.to.addrs,
		Cc:      opts.cc.addrs,
		Bcc:     opts.bcc.addrs,
		ReplyTo: opts.replyTo.addrs,
		Subject: opts.subject,
	}

	var err error
	if msg.TextBody, err = readOptional(opts.textFile); err != nil {
		return nil, noop, err
	}
	if msg.HTMLBody, err = readOptional(opts.htmlFile); err != nil {
		return nil, noop, err
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, a := range opts.attach {
		f, err := os.Open(a.path)
		if err != nil {
			closeAll()
			return nil, noop, fmt.Errorf("failed to open attachment: %w", err)
		}
		files = append(files, f)
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Name:        filepath.Base(a.path),
			ContentType: a.contentType,
			Content:     f,
		})
	}
	return msg, closeAll, nil
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read body file: %w", err)
	}
	return string(data), nil
}

// addressFlag is a comma-separated address list. An unset flag leaves addrs
// nil so the category is omitted.
type addressFlag struct {
	addrs []email.Address
}

func (f *addressFlag) String() string {
	if f == nil {
		return ""
	}
	parts := make([]string, 0, len(f.addrs))
	for _, a := range f.addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ",")
}

func (f *addressFlag) Set(v string) error {
	list, err := mail.ParseAddressList(v)
	if err != nil {
		return fmt.Errorf("invalid address list %q: %w", v, err)
	}
	for _, a := range list {
		f.addrs = append(f.addrs, email.Address{Value: a.Address, Display: a.Name})
	}
	return nil
}

type attachSpec struct {
	path        string
	contentType string
}

// attachFlag collects repeated -attach values of the form path[;type/subtype].
// Without an explicit type the file extension decides.
type attachFlag []attachSpec

func (f *attachFlag) String() string {
	if f == nil {
		return ""
	}
	paths := make([]string, 0, len(*f))
	for _, s := range *f {
		paths = append(paths, s.path)
	}
	return strings.Join(paths, ",")
}

func (f *attachFlag) Set(v string) error {
	path, contentType, _ := strings.Cut(v, ";")
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("attachment path is empty")
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		if media, _, err := mime.ParseMediaType(mime.TypeByExtension(filepath.Ext(path))); err == nil {
			contentType = media
		}
	}
	*f = append(*f, attachSpec{path: path, contentType: contentType})
	return nil
}
