package smtp

import "bytes"

// ReplyFramer incrementally decodes whatever bytes arrive off the wire into
// zero or more complete Reply values. It is the client-facing half of C4:
// "byte buffer → reply" in spec.md's component table.
//
// ReplyFramer is not safe for concurrent use; the connection driver's
// reader loop is its only caller and that loop is single-threaded per
// connection, per spec.md §5.
type ReplyFramer struct {
	buf []byte
}

// Feed appends newly-arrived bytes to the framer's internal buffer.
func (f *ReplyFramer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Next attempts to decode one reply group from the buffered bytes. ok is
// false when more bytes are needed (buffered data is left untouched for the
// next Feed); err is non-nil for any other decode failure, which is fatal
// to the connection per spec.md §7.
func (f *ReplyFramer) Next() (reply Reply, ok bool, err error) {
	reply, n, err := decodeReplyGroup(f.buf)
	if err == errIncomplete {
		return Reply{}, false, nil
	}
	if err != nil {
		return Reply{}, false, err
	}
	f.buf = f.buf[n:]
	return reply, true, nil
}

// CommandFramer incrementally decodes arbitrary client input into zero or
// more complete Command values. It exists for symmetry with ReplyFramer and
// for exercising the round-trip and stream-safety properties in §8; this
// package's own connection driver never needs to decode commands (it only
// ever encodes and sends them).
type CommandFramer struct {
	buf []byte
}

// Feed appends newly-arrived bytes to the framer's internal buffer.
func (f *CommandFramer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Next attempts to decode one command line from the buffered bytes, with
// the same ok/err contract as ReplyFramer.Next.
func (f *CommandFramer) Next() (cmd Command, ok bool, err error) {
	cmd, n, err := decodeCommandFrame(f.buf)
	if err == errIncomplete {
		return Command{}, false, nil
	}
	if err != nil {
		return Command{}, false, err
	}
	f.buf = f.buf[n:]
	return cmd, true, nil
}

// decodeCommandFrame implements spec.md §4.1's line-framing algorithm: find
// the first LF, require the preceding byte to be CR, enforce the length
// bounds, then hand the whole line (CRLF included) to decodeCommandLine.
func decodeCommandFrame(data []byte) (Command, int, error) {
	lf := bytes.IndexByte(data, '\n')
	if lf == -1 {
		return Command{}, 0, errIncomplete
	}
	if lf == 0 || data[lf-1] != '\r' {
		return Command{}, 0, ErrCRLFNotFound
	}
	lineLen := lf + 1 // includes the trailing LF
	if lineLen < MinCommandLineLength {
		return Command{}, 0, newCommandTooShortError(string(data[:lineLen]))
	}
	if lineLen > MaxCommandLineLength {
		return Command{}, 0, newCommandTooLongError()
	}
	cmd, err := decodeCommandLine(string(data[:lineLen]))
	if err != nil {
		return Command{}, 0, err
	}
	return cmd, lineLen, nil
}

// OutboundKind discriminates the three shapes an Outbound can take.
type OutboundKind int

const (
	OutboundSingle OutboundKind = iota
	OutboundSequence
	OutboundRaw
)

// Outbound is the tagged variant written to the connection: a single
// command, an ordered sequence of commands emitted back-to-back (for
// pipelining), or a raw byte blob (the DATA payload, or test fixtures).
type Outbound struct {
	Kind     OutboundKind
	Command  Command
	Commands []Command
	Raw      []byte
}

// SingleOutbound wraps one command for emission.
func SingleOutbound(c Command) Outbound {
	return Outbound{Kind: OutboundSingle, Command: c}
}

// SequenceOutbound wraps an ordered list of commands emitted without
// waiting for intermediate replies (pipelining).
func SequenceOutbound(cs ...Command) Outbound {
	return Outbound{Kind: OutboundSequence, Commands: cs}
}

// RawOutbound wraps a pre-encoded byte blob, bypassing the command encoder
// entirely.
func RawOutbound(b []byte) Outbound {
	return Outbound{Kind: OutboundRaw, Raw: b}
}

// Encode dispatches on Kind and renders the outbound value to bytes.
func (o Outbound) Encode() ([]byte, error) {
	switch o.Kind {
	case OutboundSingle:
		return o.Command.Encode()
	case OutboundSequence:
		var out []byte
		for _, c := range o.Commands {
			b, err := c.Encode()
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	case OutboundRaw:
		return o.Raw, nil
	default:
		return nil, ErrStringIsNil
	}
}
