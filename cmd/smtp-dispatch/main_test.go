package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/shineum/smtp-dispatch/internal/config"
	"github.com/shineum/smtp-dispatch/internal/dispatch"
)

func TestParseFlags_Addresses(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts, err := parseFlags(fs, []string{
		"-to", "Alice <alice@example.com>, bob@example.com",
		"-bcc", "hidden@example.com",
		"-subject", "Hi",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(opts.to.addrs) != 2 {
		t.Fatalf("to: got %d addresses, want 2", len(opts.to.addrs))
	}
	if opts.to.addrs[0].Value != "alice@example.com" || opts.to.addrs[0].Display != "Alice" {
		t.Errorf("to[0]: got %+v", opts.to.addrs[0])
	}
	if opts.cc.addrs != nil {
		t.Errorf("cc: got %v, want nil for an unset flag", opts.cc.addrs)
	}
	if opts.replyTo.addrs != nil {
		t.Errorf("reply-to: got %v, want nil for an unset flag", opts.replyTo.addrs)
	}
	if len(opts.bcc.addrs) != 1 {
		t.Errorf("bcc: got %d addresses, want 1", len(opts.bcc.addrs))
	}
	if opts.pipeline != "cli" {
		t.Errorf("pipeline: got %q, want %q", opts.pipeline, "cli")
	}
}

func TestParseFlags_InvalidAddress(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseFlags(fs, []string{"-to", "not an address"}); err == nil {
		t.Error("expected error for invalid address, got nil")
	}
}

func TestAttachFlag(t *testing.T) {
	t.Parallel()

	var f attachFlag
	for _, v := range []string{"report.pdf", "chart.bin;image/png", "data.unknownext"} {
		if err := f.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	if err := f.Set(";text/plain"); err == nil {
		t.Error("expected error for empty path, got nil")
	}

	tests := []struct {
		path        string
		contentType string
	}{
		{path: "report.pdf", contentType: "application/pdf"},
		{path: "chart.bin", contentType: "image/png"},
		{path: "data.unknownext", contentType: ""},
	}
	if len(f) != len(tests) {
		t.Fatalf("attachments: got %d, want %d", len(f), len(tests))
	}
	for i, tt := range tests {
		if f[i].path != tt.path {
			t.Errorf("attachment %d path: got %q, want %q", i, f[i].path, tt.path)
		}
		if f[i].contentType != tt.contentType {
			t.Errorf("attachment %d content type: got %q, want %q", i, f[i].contentType, tt.contentType)
		}
	}
}

func TestBuildEmail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	textPath := filepath.Join(dir, "body.txt")
	attPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textPath, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := os.WriteFile(attPath, []byte("notes"), 0o600); err != nil {
		t.Fatalf("write attachment: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts, err := parseFlags(fs, []string{
		"-to", "alice@example.com",
		"-text", textPath,
		"-attach", attPath + ";text/plain",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := &config.Config{Sender: config.SenderConfig{Address: "noreply@example.com", Name: "Notifier"}}
	msg, closeFn, err := buildEmail(cfg, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()

	if msg.From.Value != "noreply@example.com" || msg.From.Display != "Notifier" {
		t.Errorf("From: got %+v, want configured sender", msg.From)
	}
	if msg.TextBody != "hello" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "hello")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Name != "notes.txt" || att.ContentType != "text/plain" {
		t.Errorf("attachment: got name=%q type=%q", att.Name, att.ContentType)
	}
	data, err := io.ReadAll(att.Content)
	if err != nil {
		t.Fatalf("read attachment: %v", err)
	}
	if string(data) != "notes" {
		t.Errorf("attachment content: got %q, want %q", data, "notes")
	}
}

func TestBuildEmail_MissingFile(t *testing.T) {
	t.Parallel()

	opts := &options{textFile: filepath.Join(t.TempDir(), "missing.txt")}
	if _, _, err := buildEmail(&config.Config{}, opts); err == nil {
		t.Error("expected error for missing body file, got nil")
	}
}

func TestSelectProvider(t *testing.T) {
	t.Parallel()

	reporter := dispatch.NewLogReporter(nil)

	tests := []struct {
		name     string
		cfg      *config.Config
		wantName string
		wantErr  bool
	}{
		{name: "stdout", cfg: &config.Config{Provider: "stdout"}, wantName: "stdout"},
		{
			name: "smtp",
			cfg: &config.Config{Provider: "smtp", SMTP: config.SMTPConfig{
				Host: "smtp.example.com", Port: 587, Username: "u", Password: "p",
			}},
			wantName: "smtp",
		},
		{name: "smtp unconfigured", cfg: &config.Config{Provider: "smtp"}, wantErr: true},
		{name: "ses unconfigured", cfg: &config.Config{Provider: "ses"}, wantErr: true},
		{
			name: "smtp missing CA file",
			cfg: &config.Config{Provider: "smtp", SMTP: config.SMTPConfig{
				Host: "smtp.example.com", Username: "u", Password: "p", CAFile: "/nonexistent/ca.pem",
			}},
			wantErr: true,
		},
		{name: "unknown", cfg: &config.Config{Provider: "carrier-pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := selectProvider(context.Background(), tt.cfg, reporter)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name(): got %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}
