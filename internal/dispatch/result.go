package dispatch

// Status is the outcome of a single dispatched message.
type Status int

const (
	// StatusDispatched means the transport accepted the message.
	StatusDispatched Status = iota + 1
	// StatusException means the dispatch failed and is reported as an error.
	StatusException
)

func (s Status) String() string {
	switch s {
	case StatusDispatched:
		return "dispatched"
	case StatusException:
		return "exception"
	default:
		return "unknown"
	}
}

// Result describes one message handed to a transport.
type Result struct {
	// ResourceID correlates the message across systems; for email it is the
	// Message-ID without angle brackets.
	ResourceID string
	// MessageString is the transport's confirmation, e.g. the SMTP server's
	// final DATA reply.
	MessageString string
	Status        Status
	// ChannelProviderID names the provider that produced the result.
	ChannelProviderID string
}
