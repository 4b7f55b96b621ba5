package smtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressRoundTrip(t *testing.T) {
	addr, err := ParseAddress("<alice@example.com>")
	require.NoError(t, err)
	require.Equal(t, "alice", addr.Local)
	require.Equal(t, "example.com", addr.Domain)
	require.Equal(t, "<alice@example.com>", addr.String())
}

func TestParseAddressWithoutBrackets(t *testing.T) {
	addr, err := ParseAddress("bob@example.org")
	require.NoError(t, err)
	require.Equal(t, "<bob@example.org>", addr.String())
}

func TestParseAddressRejectsMultipleAt(t *testing.T) {
	_, err := ParseAddress("<a@b@c>")
	require.Error(t, err)
}

func TestParseAddressRejectsEmpty(t *testing.T) {
	_, err := ParseAddress("")
	require.ErrorIs(t, err, ErrAddressNotFound)
}

func TestParseClientIdentityClassifiesLiterals(t *testing.T) {
	require.Equal(t, IdentityIPv4, ParseClientIdentity("192.0.2.1").Kind)
	require.Equal(t, IdentityIPv6, ParseClientIdentity("2001:db8::1").Kind)
	require.Equal(t, IdentityDomain, ParseClientIdentity("mail.example.com").Kind)
}

func TestWireDomainNormalizesIDNOnlyOnDomain(t *testing.T) {
	addr := NewAddress("josé", "münchen.example")
	// The local part must survive untouched for SMTPUTF8; only the domain is
	// punycode-normalized.
	require.Equal(t, "josé", addr.Local)
	require.Contains(t, addr.WireDomain(), "xn--")
}
