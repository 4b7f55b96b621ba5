package smtp

import "strings"

// CRLF is the line terminator mandated by RFC 5321 for every command and
// reply line on the wire.
const CRLF = "\r\n"

// MaxCommandLineLength is the largest command line (including the trailing
// CRLF) the decoder will accept before failing with KindCommandTooLong.
const MaxCommandLineLength = 1024

// MinCommandLineLength is the shortest well-formed command line, the length
// of "NOOP\r\n". A line shorter than this fails with KindCommandTooShort.
//
// This is deliberately <6, not <=6: a 6-byte "NOOP\r\n" or "DATA\r\n" must be
// accepted, per spec design note (i).
const MinCommandLineLength = 6

// MaxReplyGroupLength is the largest total byte count (across every line of
// a multi-line reply group, CRLFs included) the reply decoder will accept
// before failing with KindReplyTooLong.
const MaxReplyGroupLength = 4 * 1024

// verbTable is the ordered list of verb literals the command decoder
// matches against, mirroring daemon/smtpd/smtp/protocol.go's
// protocolCommands table: a static, ordered list of (verb, literal) pairs
// rather than dynamic dispatch over an interface. Each verb's argument parser
// is selected by the switch in decodeCommandLine.
//
// Order matters only in that the first matching prefix wins; none of these
// literals are prefixes of one another, so in practice only one ever
// matches, but the ordering is kept stable to match the spec's table.
var verbTable = []struct {
	Verb    Verb
	Literal string
}{
	{VerbHELO, "HELO "},
	{VerbEHLO, "EHLO "},
	{VerbMAILFROM, "MAIL FROM:"},
	{VerbRCPTTO, "RCPT TO:"},
	{VerbDATA, "DATA\r\n"},
	{VerbRSET, "RSET\r\n"},
	{VerbSTARTTLS, "STARTTLS\r\n"},
	{VerbNOOP, "NOOP\r\n"},
	{VerbQUIT, "QUIT\r\n"},
}

// asciiUpper folds a single ASCII lower-case letter to upper case; every
// other byte (including non-ASCII bytes) passes through unchanged. This is
// the exact folding rule spec.md §4.1 calls for: "ASCII upper-case folding
// only... non-ASCII bytes match only by exact equality."
func asciiUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// hasPrefixFold reports whether s begins with prefix under ASCII-only
// case folding of s (prefix is assumed to already be upper case).
func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if asciiUpper(s[i]) != prefix[i] {
			return false
		}
	}
	return true
}

// matchVerb returns the first verb table entry whose literal is a
// case-insensitive (ASCII-fold) prefix of line, and the remainder of line
// with that literal's byte length stripped off the front. ok is false if no
// verb matches.
func matchVerb(line string) (verb Verb, rest string, ok bool) {
	for _, entry := range verbTable {
		if hasPrefixFold(line, entry.Literal) {
			return entry.Verb, line[len(entry.Literal):], true
		}
	}
	return VerbUnknown, "", false
}

// splitFields splits s on single ASCII spaces, dropping empty segments, as
// spec.md §4.1 requires for MAIL FROM / RCPT TO argument parsing.
func splitFields(s string) []string {
	raw := strings.Split(s, " ")
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
