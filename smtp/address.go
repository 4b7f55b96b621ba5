package smtp

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// Address is a parsed mailbox (the reverse-path of MAIL FROM, or the
// forward-path of RCPT TO). It is a plain value type: every field is copied
// by value, and ParseAddress and NewAddress are its constructors (the fields
// are exported, so a struct literal also produces one).
//
// Invariant: Local and Domain never contain '@'; String() re-adds exactly
// one '@' and the angle brackets that ParseAddress strips off.
type Address struct {
	Local  string
	Domain string
}

// NewAddress builds an Address directly from its local and domain parts,
// without the angle-bracket stripping ParseAddress performs.
func NewAddress(local, domain string) Address {
	return Address{Local: local, Domain: domain}
}

// ParseAddress parses a mailbox of the form "<local@domain>" or
// "local@domain" (the angle brackets are optional on input but always
// re-added by String). Fails with ErrAddressNotFound if s is empty, or a
// KindAddressUnparsable ProtocolError if it does not contain exactly one '@'.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, ErrAddressNotFound
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	at := strings.IndexByte(trimmed, '@')
	if at == -1 || strings.IndexByte(trimmed[at+1:], '@') != -1 {
		return Address{}, newAddressUnparsableError(s)
	}
	return Address{Local: trimmed[:at], Domain: trimmed[at+1:]}, nil
}

// String renders the address back onto the wire as "<local@domain>".
func (a Address) String() string {
	return "<" + a.Local + "@" + a.Domain + ">"
}

// asciiDomain returns dom normalized to an ASCII-compatible encoding via
// IDNA/punycode when it contains non-ASCII labels, and dom unchanged
// otherwise. Per SPEC_FULL.md's SMTPUTF8 handling: only the domain part is
// normalized this way, never the local part, which SMTPUTF8 permits to carry
// UTF-8 directly.
func asciiDomain(dom string) string {
	for i := 0; i < len(dom); i++ {
		if dom[i] > 127 {
			if ascii, err := idna.ToASCII(dom); err == nil {
				return ascii
			}
			return dom
		}
	}
	return dom
}

// WireDomain returns the domain part of the address in its on-the-wire,
// ASCII-compatible form, leaving the local part untouched.
func (a Address) WireDomain() string {
	return asciiDomain(a.Domain)
}

// WireString renders the address the way Command.Encode puts it on the
// wire: "<local@domain>" with the domain passed through WireDomain so a
// Unicode domain is never sent un-normalized, per SPEC_FULL.md's IDNA-aware
// address domain encoding.
func (a Address) WireString() string {
	return "<" + a.Local + "@" + a.WireDomain() + ">"
}

// IdentityKind classifies a ClientIdentity's textual form.
type IdentityKind int

const (
	IdentityDomain IdentityKind = iota
	IdentityIPv4
	IdentityIPv6
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityDomain:
		return "domain"
	case IdentityIPv4:
		return "ipv4"
	case IdentityIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("identity-kind(%d)", int(k))
	}
}

// ClientIdentity is the argument of HELO/EHLO: a domain name or an IP
// address literal presented by the client. Parsing never fails — anything
// that is not a recognizable IPv4 or IPv6 literal is treated as a domain
// string, per spec.md §3's "no further validation beyond that".
type ClientIdentity struct {
	Kind  IdentityKind
	Value string
}

// ParseClientIdentity classifies s as IPv4, IPv6, or (by default) a domain.
func ParseClientIdentity(s string) ClientIdentity {
	if ip := net.ParseIP(s); ip != nil {
		if ip.To4() != nil && !strings.Contains(s, ":") {
			return ClientIdentity{Kind: IdentityIPv4, Value: s}
		}
		return ClientIdentity{Kind: IdentityIPv6, Value: s}
	}
	return ClientIdentity{Kind: IdentityDomain, Value: s}
}

// String renders the identity back onto the wire. IPv4/IPv6 literals are
// rendered verbatim; domains are normalized through IDNA when necessary.
func (c ClientIdentity) String() string {
	if c.Kind == IdentityDomain {
		return asciiDomain(c.Value)
	}
	return c.Value
}
