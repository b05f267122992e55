// Package email defines the channel-neutral email model handed to providers.
package email

import "io"

// Email is the message a provider dispatches. Providers treat it as read-only.
//
// A nil Cc, Bcc or ReplyTo slice means the category is omitted.
type Email struct {
	From        Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Address is a single mailbox.
type Address struct {
	// Value is the addr-spec, e.g. "jane@example.com".
	Value string
	// Display is the optional display name.
	Display string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Name string
	// ContentType is the declared "type/subtype"; providers fall back to
	// application/octet-stream when it is missing or malformed.
	ContentType string
	Content     io.Reader
}

// Values returns the addr-spec of every address in order.
func Values(addrs []Address) []string {
	if addrs == nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Value)
	}
	return out
}

// String renders the address in "Display <value>" form, or the bare value
// when no display name is set.
func (a Address) String() string {
	if a.Display == "" {
		return a.Value
	}
	return a.Display + " <" + a.Value + ">"
}
