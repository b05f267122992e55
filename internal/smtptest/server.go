// Package smtptest runs a recording SMTP server on the loopback interface
// for tests that exercise real SMTP sessions.
package smtptest

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/smtp-dispatch/internal/parser"
	smtptls "github.com/shineum/smtp-dispatch/internal/tls"
)

// Options controls what the server advertises and accepts.
type Options struct {
	// Username and Password are the only credentials AUTH PLAIN accepts.
	Username string
	Password string
	// NoAuth disables AUTH entirely; MAIL is then accepted without it.
	NoAuth bool
	// StartTLS advertises STARTTLS with a self-signed certificate.
	StartTLS bool
	// ImplicitTLS wraps the listener in TLS from the first byte.
	ImplicitTLS bool
	// DataErr, when set, is returned for every DATA command.
	DataErr error
}

// Message is one accepted transaction.
type Message struct {
	From string
	To   []string
	Data []byte
	// TLS reports whether the session was encrypted when DATA completed.
	TLS bool
	// Authenticated reports whether the session passed AUTH.
	Authenticated bool
}

// Parse decodes the message data.
func (m Message) Parse() (*parser.Message, error) {
	return parser.Parse(m.Data)
}

// Server is a running recording SMTP server.
type Server struct {
	// Addr is host:port of the listener.
	Addr string
	Host string
	Port int

	opts Options
	cert *tls.Certificate
	srv  *gosmtp.Server

	mu       sync.Mutex
	messages []Message
}

// NewServer starts a server on 127.0.0.1 with a random port.
func NewServer(opts Options) (*Server, error) {
	s := &Server{opts: opts}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	srv := gosmtp.NewServer(&backend{server: s})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second

	if opts.StartTLS || opts.ImplicitTLS {
		cert, err := smtptls.GenerateSelfSignedCert()
		if err != nil {
			ln.Close()
			return nil, err
		}
		s.cert = cert
		if opts.ImplicitTLS {
			ln = tls.NewListener(ln, smtptls.ServerConfig(cert))
		} else {
			srv.TLSConfig = smtptls.ServerConfig(cert)
		}
	}

	addr := ln.Addr().(*net.TCPAddr)
	s.Addr = addr.String()
	s.Host = addr.IP.String()
	s.Port = addr.Port
	s.srv = srv

	go func() {
		_ = srv.Serve(ln)
	}()

	return s, nil
}

// Start is NewServer for tests: it fails t on error and closes the server
// during cleanup.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()

	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("smtptest: start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Close stops the listener and drops open sessions.
func (s *Server) Close() error {
	return s.srv.Close()
}

// ClientTLSConfig returns a config trusting the server certificate, or nil
// when the server runs without TLS.
func (s *Server) ClientTLSConfig() *tls.Config {
	if s.cert == nil {
		return nil
	}
	cfg, err := smtptls.ClientConfig(s.cert)
	if err != nil {
		return nil
	}
	return cfg
}

// Messages returns a snapshot of accepted messages in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Server) record(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

type backend struct {
	server *Server
}

func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	sess := &session{server: b.server, conn: c}
	if b.server.opts.NoAuth {
		return sess, nil
	}
	return &authSession{session: sess}, nil
}

type session struct {
	server *Server
	conn   *gosmtp.Conn

	authenticated bool
	from          string
	to            []string
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.server.opts.NoAuth && !s.authenticated {
		return gosmtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.server.opts.DataErr != nil {
		return s.server.opts.DataErr
	}

	_, encrypted := s.conn.TLSConnectionState()
	s.server.record(Message{
		From:          s.from,
		To:            append([]string(nil), s.to...),
		Data:          data,
		TLS:           encrypted,
		Authenticated: s.authenticated,
	})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

type authSession struct {
	*session
}

func (s *authSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *authSession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.server.opts.Username || password != s.server.opts.Password {
			return gosmtp.ErrAuthFailed
		}
		s.authenticated = true
		return nil
	}), nil
}

// ErrRejected is a ready-made permanent DATA rejection for Options.DataErr.
var ErrRejected error = &gosmtp.SMTPError{
	Code:         554,
	EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
	Message:      "Message rejected",
}
