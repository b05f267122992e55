package smtp

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shineum/smtp-dispatch/internal/dispatch"
)

const (
	defaultPort     = 25
	implicitTLSPort = 465

	defaultLocalName = "localhost"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the connection settings for the SMTP relay.
type Config struct {
	Host string `validate:"required,hostname_rfc1123|ip"`
	// Port of the relay; 0 selects 25.
	Port int `validate:"gte=0,lte=65535"`
	// UseSSL requires STARTTLS. Without it the session upgrades
	// opportunistically, or uses implicit TLS on port 465.
	UseSSL   bool
	Username string `validate:"required"`
	Password string `validate:"required"`

	// LocalName is sent with EHLO. Defaults to "localhost".
	LocalName string `validate:"omitempty,hostname_rfc1123"`
	// Timeout bounds a whole session. Zero leaves it to ctx.
	Timeout time.Duration `validate:"gte=0"`
	// TLSConfig overrides trust settings; ServerName is always set to Host.
	TLSConfig *tls.Config `validate:"-"`

	// tlsOnConnect treats Port like 465 in SecurityAuto mode.
	tlsOnConnect bool
}

// SecurityMode selects how the session is encrypted.
type SecurityMode int

const (
	// SecurityAuto uses implicit TLS on port 465 and STARTTLS elsewhere when
	// the server offers it.
	SecurityAuto SecurityMode = iota
	// SecurityStartTLS requires the server to offer STARTTLS.
	SecurityStartTLS
)

func (m SecurityMode) String() string {
	if m == SecurityStartTLS {
		return "starttls"
	}
	return "auto"
}

// SecurityMode resolves the mode requested by the configuration.
func (c Config) SecurityMode() SecurityMode {
	if c.UseSSL {
		return SecurityStartTLS
	}
	return SecurityAuto
}

// implicitTLS reports whether the session is TLS from the first byte.
func (c Config) implicitTLS() bool {
	return c.SecurityMode() == SecurityAuto && (c.Port == implicitTLSPort || c.tlsOnConnect)
}

// port returns the effective port, resolving 0 to the protocol default.
func (c Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	return defaultPort
}

func (c Config) localName() string {
	if c.LocalName != "" {
		return c.LocalName
	}
	return defaultLocalName
}

func (c Config) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	}
	cfg.ServerName = c.Host
	return cfg
}

func (c Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: smtp config: %v", dispatch.ErrInvalidArgument, err)
	}
	return nil
}
