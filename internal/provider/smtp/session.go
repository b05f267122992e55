package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/smtp-dispatch/internal/message"
)

var (
	// ErrStartTLSUnsupported is returned in SecurityStartTLS mode when the
	// server does not offer STARTTLS.
	ErrStartTLSUnsupported = errors.New("smtp server does not support STARTTLS")
	// ErrAuthUnsupported is returned when the server offers neither PLAIN nor
	// LOGIN authentication.
	ErrAuthUnsupported = errors.New("smtp server does not support PLAIN or LOGIN authentication")
)

// session is one connect-authenticate-send-quit sequence.
type session struct {
	cfg    Config
	client *gosmtp.Client
	stop   func() bool
}

// connect opens the transport connection. The connection is closed as soon
// as ctx is done, which aborts any blocked read or write.
func connect(ctx context.Context, cfg Config) (net.Conn, func() bool, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.port()))
	dialer := &net.Dialer{}

	var (
		conn net.Conn
		err  error
	)
	if cfg.implicitTLS() {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return conn, stop, nil
}

// dial connects and greets the server, upgrading to TLS where the security
// mode asks for it.
func dial(ctx context.Context, cfg Config) (*session, error) {
	conn, stop, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, client: gosmtp.NewClient(conn), stop: stop}

	if err := s.client.Hello(cfg.localName()); err != nil {
		s.close()
		return nil, err
	}
	if cfg.implicitTLS() {
		return s, nil
	}

	if ok, _ := s.client.Extension("STARTTLS"); !ok {
		if cfg.SecurityMode() == SecurityStartTLS {
			s.close()
			return nil, ErrStartTLSUnsupported
		}
		slog.Debug("smtp server does not offer STARTTLS, continuing unencrypted",
			"host", cfg.Host,
		)
		return s, nil
	}

	// go-smtp only upgrades a connection it greets itself, so the
	// capability check above costs one extra round trip.
	_ = s.client.Quit()
	s.close()
	return dialStartTLS(ctx, cfg)
}

// dialStartTLS opens a fresh connection, upgrades it with STARTTLS and
// repeats EHLO over the encrypted channel.
func dialStartTLS(ctx context.Context, cfg Config) (*session, error) {
	conn, stop, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := gosmtp.NewClientStartTLS(conn, cfg.tlsConfig())
	if err != nil {
		stop()
		return nil, err
	}

	s := &session{cfg: cfg, client: client, stop: stop}
	// The TLS handshake runs on this first write.
	if err := s.client.Hello(cfg.localName()); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) authenticate() error {
	switch {
	case s.client.SupportsAuth(sasl.Plain):
		return s.client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password))
	case s.client.SupportsAuth(sasl.Login):
		return s.client.Auth(sasl.NewLoginClient(s.cfg.Username, s.cfg.Password))
	default:
		return ErrAuthUnsupported
	}
}

// send transmits out and returns the server's reply to the end of DATA.
func (s *session) send(out *message.Outgoing) (string, error) {
	if err := s.client.Mail(out.From, nil); err != nil {
		return "", err
	}
	for _, rcpt := range out.Recipients {
		if err := s.client.Rcpt(rcpt, nil); err != nil {
			return "", err
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return "", err
	}
	if _, err := out.WriteTo(w); err != nil {
		_ = w.Close()
		return "", err
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return "", err
	}
	return resp.StatusText, nil
}

// quit ends the session gracefully.
func (s *session) quit() error {
	return s.client.Quit()
}

// close releases the connection without QUIT.
func (s *session) close() {
	s.stop()
	_ = s.client.Close()
}

// transmit runs one full session for out.
func transmit(ctx context.Context, cfg Config, out *message.Outgoing) (string, error) {
	s, err := dial(ctx, cfg)
	if err != nil {
		return "", ctxErr(ctx, err)
	}
	defer s.close()

	if err := s.authenticate(); err != nil {
		return "", ctxErr(ctx, err)
	}
	resp, err := s.send(out)
	if err != nil {
		return "", ctxErr(ctx, err)
	}
	if err := s.quit(); err != nil {
		return "", ctxErr(ctx, err)
	}
	return resp, nil
}

// ctxErr prefers the context's error once it is done, so callers can match
// context.Canceled and context.DeadlineExceeded.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
