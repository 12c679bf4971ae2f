package dropmail

import (
	"fmt"
	"net/mail"
	"strings"
)

// Address is a mailbox address with an optional display name.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// Email is a parsed inbound email as handed over by the SMTP side.
type Email struct {
	Subject string    `json:"subject"`
	From    []Address `json:"from"`
	To      []Address `json:"to"`
	Text    string    `json:"text,omitempty"`
	HTML    string    `json:"html,omitempty"`
}

// NormalizeAddress trims surrounding whitespace and lowercases s.
// Stored entries and lookups both go through it, so lookups are
// case-insensitive.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Recipients returns the normalized, de-duplicated recipient addresses of to,
// in first-occurrence order. Blank addresses are dropped.
func Recipients(to []Address) []string {
	out := make([]string, 0, len(to))
	seen := make(map[string]struct{}, len(to))
	for _, a := range to {
		addr := NormalizeAddress(a.Address)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// Senders returns the trimmed sender addresses of from. Blank addresses are
// dropped; case is kept for display.
func Senders(from []Address) []string {
	out := make([]string, 0, len(from))
	for _, a := range from {
		if addr := strings.TrimSpace(a.Address); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// ParseAddressList parses an RFC 5322 address list header value such as
// `"Alice" <alice@example.com>, bob@example.com`. An empty header yields
// an empty list.
func ParseAddressList(header string) ([]Address, error) {
	if strings.TrimSpace(header) == "" {
		return []Address{}, nil
	}
	list, err := mail.ParseAddressList(header)
	if err != nil {
		return nil, fmt.Errorf("dropmail: parse address list: %w", err)
	}
	out := make([]Address, len(list))
	for i, a := range list {
		out[i] = Address{Address: a.Address, Name: a.Name}
	}
	return out, nil
}
