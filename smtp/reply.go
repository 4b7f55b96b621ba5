package smtp

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyCode is a structured three-digit SMTP reply code: a severity digit
// (2/3/4/5), a category digit (0-5), and a detail digit (0-9), per spec.md
// §3.
type ReplyCode struct {
	Severity int
	Category int
	Detail   int
}

// Value returns the code as the plain three-digit integer (e.g. 250).
func (c ReplyCode) Value() int {
	return c.Severity*100 + c.Category*10 + c.Detail
}

func (c ReplyCode) String() string {
	return fmt.Sprintf("%d%d%d", c.Severity, c.Category, c.Detail)
}

// parseReplyCode parses the first three bytes of s as a ReplyCode.
func parseReplyCode(s string) (ReplyCode, error) {
	if len(s) < 3 {
		return ReplyCode{}, newReplyCodeUnparsableError(s)
	}
	n, err := strconv.Atoi(s[:3])
	if err != nil || n/100 < 2 || n/100 > 5 || (n/10)%10 > 5 {
		return ReplyCode{}, newReplyCodeUnparsableError(s[:3])
	}
	return ReplyCode{Severity: n / 100, Category: (n / 10) % 10, Detail: n % 10}, nil
}

// Reply is a decoded multi-line (or single-line) SMTP server reply: one
// three-digit code shared by every line of the group, and the concatenation
// of every line's post-code text, each terminated by CRLF.
type Reply struct {
	Code    ReplyCode
	Message string
}

// NewReply builds a Reply from a code value (e.g. 250) and a message; each
// line of message that doesn't already end in CRLF gets one appended.
func NewReply(code int, message string) Reply {
	rc := ReplyCode{Severity: code / 100, Category: (code / 10) % 10, Detail: code % 10}
	if message != "" && !strings.HasSuffix(message, CRLF) {
		message += CRLF
	}
	return Reply{Code: rc, Message: message}
}

// decodeReplyGroup attempts to decode exactly one (possibly multi-line)
// reply group from the front of data. It returns the number of bytes
// consumed from data on success. errIncomplete means data does not yet hold
// a complete group and no bytes were consumed.
func decodeReplyGroup(data []byte) (Reply, int, error) {
	s := string(data)
	var firstCode ReplyCode
	var msg strings.Builder
	var consumed int
	var runningLen int

	for {
		rest := s[consumed:]
		idx := strings.Index(rest, CRLF)
		if idx == -1 {
			return Reply{}, 0, errIncomplete
		}
		line := rest[:idx]
		lineWithCRLF := rest[:idx+len(CRLF)]

		runningLen += len(lineWithCRLF)
		if runningLen > MaxReplyGroupLength {
			return Reply{}, 0, newReplyTooLongError()
		}

		if len(line) < 4 {
			return Reply{}, 0, newReplyCodeUnparsableError(line)
		}
		code, err := parseReplyCode(line)
		if err != nil {
			return Reply{}, 0, err
		}
		if consumed == 0 {
			firstCode = code
		} else if code != firstCode {
			return Reply{}, 0, newReplyCodesDifferError(firstCode, code)
		}

		sign := line[3]
		text := line[4:]
		msg.WriteString(text)
		msg.WriteString(CRLF)
		consumed += idx + len(CRLF)

		switch sign {
		case ' ':
			return Reply{Code: firstCode, Message: msg.String()}, consumed, nil
		case '-':
			continue
		default:
			return Reply{}, 0, newReplySignBadError(sign)
		}
	}
}

// Encode renders the reply back onto the wire. The message is split on
// CRLF, empty segments (including the trailing one) are dropped, and every segment but the last
// is tagged '-'; the last is tagged ' '. This mirrors the decoder's group
// shape byte-for-byte, per spec.md §4.2.
func (r Reply) Encode() ([]byte, error) {
	lines := strings.Split(r.Message, CRLF)
	// strings.Split on a CRLF-terminated message leaves one trailing empty
	// element; drop it along with any other empty segment.
	nonEmpty := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, ErrStringIsNil
	}
	var b strings.Builder
	code := r.Code.String()
	for i, line := range nonEmpty {
		b.WriteString(code)
		if i == len(nonEmpty)-1 {
			b.WriteByte(' ')
		} else {
			b.WriteByte('-')
		}
		b.WriteString(line)
		b.WriteString(CRLF)
	}
	return []byte(b.String()), nil
}
