// Package message builds wire-ready MIME messages from the email model.
//
// Construction is delegated to gopkg.in/mail.v2; this package only maps the
// neutral model onto it and derives the SMTP envelope.
package message

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	gomail "gopkg.in/mail.v2"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
	"github.com/shineum/smtp-dispatch/internal/email"
)

// DefaultContentType is used for attachments without a usable content type.
const DefaultContentType = "application/octet-stream"

// defaultIDDomain is the Message-ID right-hand side when the sender has none.
const defaultIDDomain = "localhost"

// Outgoing is a built message together with its envelope.
type Outgoing struct {
	// ID is the generated Message-ID without angle brackets.
	ID string
	// From is the envelope sender (MAIL FROM).
	From string
	// Recipients is the de-duplicated envelope recipient list (RCPT TO):
	// To, then Cc, then Bcc.
	Recipients []string

	msg *gomail.Message
}

// Build validates msg and converts it into an Outgoing message. Address
// categories that are nil on msg are left out of the result entirely.
func Build(msg *email.Email) (*Outgoing, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}

	id := NewMessageID(msg.From.Value)
	m := gomail.NewMessage()
	m.SetHeader("Message-ID", "<"+id+">")
	m.SetAddressHeader("From", msg.From.Value, msg.From.Display)
	setAddresses(m, "To", msg.To)
	setAddresses(m, "Cc", msg.Cc)
	// mail.v2 never writes Bcc into the message body; it only feeds the envelope.
	setAddresses(m, "Bcc", msg.Bcc)
	setAddresses(m, "Reply-To", msg.ReplyTo)
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}

	for _, att := range msg.Attachments {
		mediaType, subType := ResolveContentType(att.ContentType)
		ct := mime.FormatMediaType(mediaType+"/"+subType, map[string]string{"name": att.Name})
		m.AttachReader(att.Name, att.Content, gomail.SetHeader(map[string][]string{
			"Content-Type": {ct},
		}))
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, email.Values(msg.To)...)
	recipients = append(recipients, email.Values(msg.Cc)...)
	recipients = append(recipients, email.Values(msg.Bcc)...)

	return &Outgoing{
		ID:         id,
		From:       msg.From.Value,
		Recipients: lo.Uniq(recipients),
		msg:        m,
	}, nil
}

// Header returns the values of a header set on the built message.
func (o *Outgoing) Header(field string) []string {
	return o.msg.GetHeader(field)
}

// WriteTo writes the RFC 5322 message. Attachment readers are consumed, so
// an Outgoing can be written once.
func (o *Outgoing) WriteTo(w io.Writer) (int64, error) {
	return o.msg.WriteTo(w)
}

// Bytes renders the message into memory.
func (o *Outgoing) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := o.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return buf.Bytes(), nil
}

// ResolveContentType splits a declared "type/subtype" content type. Empty,
// blank and malformed values resolve to application/octet-stream, as does
// any segment that is not a MIME token (parameters included).
func ResolveContentType(contentType string) (mediaType, subType string) {
	parts := strings.Split(strings.TrimSpace(contentType), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" ||
		mime.FormatMediaType(parts[0]+"/"+parts[1], nil) == "" {
		parts = strings.Split(DefaultContentType, "/")
	}
	return parts[0], parts[1]
}

// NewMessageID returns a fresh Message-ID (without angle brackets) whose
// right-hand side is the domain of sender.
func NewMessageID(sender string) string {
	domain := defaultIDDomain
	if at := strings.LastIndexByte(sender, '@'); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

func setAddresses(m *gomail.Message, field string, addrs []email.Address) {
	if len(addrs) == 0 {
		return
	}
	m.SetHeader(field, lo.Map(addrs, func(a email.Address, _ int) string {
		return m.FormatAddress(a.Value, a.Display)
	})...)
}

// Validate checks the preconditions every provider enforces before sending:
// a sender, at least one To recipient and readable attachments.
func Validate(msg *email.Email) error {
	switch {
	case msg == nil:
		return fmt.Errorf("%w: email is nil", dispatch.ErrInvalidArgument)
	case msg.From.Value == "":
		return fmt.Errorf("%w: email has no sender", dispatch.ErrInvalidArgument)
	case len(msg.To) == 0:
		return fmt.Errorf("%w: email has no To recipients", dispatch.ErrInvalidArgument)
	}
	for i, att := range msg.Attachments {
		if att.Content == nil {
			return fmt.Errorf("%w: attachment %d (%q) has no content", dispatch.ErrInvalidArgument, i, att.Name)
		}
	}
	return nil
}
