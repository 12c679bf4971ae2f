// Package content turns raw RFC 5322 messages into dropmail emails.
//
// The SMTP side of a disposable mail service receives raw message bytes.
// Parse decodes headers and MIME structure (multipart bodies, transfer
// encodings, charsets) and returns the plain text and HTML bodies together
// with the parsed From and To address lists. Attachments are dropped.
//
// # Usage
//
//	e, err := content.Parse(conn, content.WithRecipients(rcptTo...))
//	if err != nil {
//	    return err
//	}
//	id, err := svc.InsertEmail(ctx, e)
package content

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/rbaliyan/dropmail"
)

// DefaultMaxMessageSize is the largest raw message Parse reads.
const DefaultMaxMessageSize = 25 * 1024 * 1024

// Sentinel errors.
var (
	// ErrMessageTooLarge is returned when the raw message exceeds the size limit.
	ErrMessageTooLarge = errors.New("content: message too large")

	// ErrMalformed is returned when the message cannot be parsed at all.
	ErrMalformed = errors.New("content: malformed message")
)

type options struct {
	maxSize    int64
	recipients []string
	includeCc  bool
}

// Option configures Parse.
type Option func(*options)

// WithMaxMessageSize limits how many bytes Parse reads. Default is 25 MB.
func WithMaxMessageSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
		}
	}
}

// WithRecipients sets the envelope recipients (SMTP RCPT TO). They replace the
// To header, which may omit Bcc recipients or name addresses the server does
// not handle. Blank addresses are ignored.
func WithRecipients(addrs ...string) Option {
	return func(o *options) {
		for _, a := range addrs {
			if strings.TrimSpace(a) != "" {
				o.recipients = append(o.recipients, a)
			}
		}
	}
}

// WithCcFallback adds Cc header addresses to To when no envelope recipients
// are given.
func WithCcFallback(enabled bool) Option {
	return func(o *options) {
		o.includeCc = enabled
	}
}

// Parse reads a raw RFC 5322 message from r.
//
// Unparseable address headers do not fail the parse: the affected list is
// left empty, and a message without recipients is later rejected by
// dropmail validation.
func Parse(r io.Reader, opts ...Option) (dropmail.Email, error) {
	o := &options{maxSize: DefaultMaxMessageSize}
	for _, opt := range opts {
		opt(o)
	}

	// Read one byte past the limit to detect oversized input.
	lr := &io.LimitedReader{R: r, N: o.maxSize + 1}
	env, err := enmime.ReadEnvelope(lr)
	if lr.N == 0 {
		return dropmail.Email{}, fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, o.maxSize)
	}
	if err != nil {
		return dropmail.Email{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	e := dropmail.Email{
		Subject: strings.TrimSpace(env.GetHeader("Subject")),
		From:    addressList(env, "From"),
		Text:    env.Text,
		HTML:    env.HTML,
	}

	switch {
	case len(o.recipients) > 0:
		e.To = make([]dropmail.Address, len(o.recipients))
		for i, a := range o.recipients {
			e.To[i] = dropmail.Address{Address: a}
		}
	default:
		e.To = addressList(env, "To")
		if o.includeCc {
			e.To = append(e.To, addressList(env, "Cc")...)
		}
	}

	return e, nil
}

// addressList returns the parsed addresses of header key, or an empty list
// when the header is missing or malformed.
func addressList(env *enmime.Envelope, key string) []dropmail.Address {
	list, err := env.AddressList(key)
	if err != nil {
		if !errors.Is(err, mail.ErrHeaderNotPresent) {
			// Fall back to a lenient split for headers net/mail rejects.
			return lenientAddressList(env.GetHeader(key))
		}
		return []dropmail.Address{}
	}
	out := make([]dropmail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, dropmail.Address{Address: a.Address, Name: a.Name})
	}
	return out
}

// lenientAddressList extracts bare addresses from a comma separated header,
// taking the part inside angle brackets when present.
func lenientAddressList(header string) []dropmail.Address {
	out := []dropmail.Address{}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if i := strings.LastIndex(part, "<"); i >= 0 {
			if j := strings.LastIndex(part, ">"); j > i {
				part = part[i+1 : j]
			}
		}
		if strings.Contains(part, "@") {
			out = append(out, dropmail.Address{Address: strings.TrimSpace(part)})
		}
	}
	return out
}
