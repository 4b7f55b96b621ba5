package smtp

import (
	"strconv"
	"strings"
)

// Verb is the discriminant of the Command tagged variant.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbHELO
	VerbEHLO
	VerbMAILFROM
	VerbRCPTTO
	VerbDATA
	VerbRSET
	VerbSTARTTLS
	VerbNOOP
	VerbQUIT
)

func (v Verb) String() string {
	switch v {
	case VerbHELO:
		return "HELO"
	case VerbEHLO:
		return "EHLO"
	case VerbMAILFROM:
		return "MAIL FROM"
	case VerbRCPTTO:
		return "RCPT TO"
	case VerbDATA:
		return "DATA"
	case VerbRSET:
		return "RSET"
	case VerbSTARTTLS:
		return "STARTTLS"
	case VerbNOOP:
		return "NOOP"
	case VerbQUIT:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// MimeBodyType is the value of MAIL FROM's optional BODY parameter.
type MimeBodyType int

const (
	Mime7BIT MimeBodyType = iota
	Mime8BITMIME
	MimeBINARYMIME
)

func (m MimeBodyType) String() string {
	switch m {
	case Mime7BIT:
		return "7BIT"
	case Mime8BITMIME:
		return "8BITMIME"
	case MimeBINARYMIME:
		return "BINARYMIME"
	default:
		return "UNKNOWN"
	}
}

func parseMimeBodyType(s string) (MimeBodyType, bool) {
	switch strings.ToUpper(s) {
	case "7BIT":
		return Mime7BIT, true
	case "8BITMIME":
		return Mime8BITMIME, true
	case "BINARYMIME":
		return MimeBINARYMIME, true
	default:
		return 0, false
	}
}

// RetType is the value of MAIL FROM's optional RET (DSN) parameter.
type RetType int

const (
	RetFULL RetType = iota
	RetHDRS
)

func (r RetType) String() string {
	if r == RetHDRS {
		return "HDRS"
	}
	return "FULL"
}

func parseRetType(s string) (RetType, bool) {
	switch strings.ToUpper(s) {
	case "FULL":
		return RetFULL, true
	case "HDRS":
		return RetHDRS, true
	default:
		return 0, false
	}
}

// NotifyValue is one element of RCPT TO's NOTIFY set.
type NotifyValue int

const (
	NotifySUCCESS NotifyValue = iota
	NotifyFAILURE
	NotifyDELAY
)

func (n NotifyValue) String() string {
	switch n {
	case NotifySUCCESS:
		return "SUCCESS"
	case NotifyFAILURE:
		return "FAILURE"
	case NotifyDELAY:
		return "DELAY"
	default:
		return "UNKNOWN"
	}
}

func parseNotifyValue(s string) (NotifyValue, bool) {
	switch strings.ToUpper(s) {
	case "SUCCESS":
		return NotifySUCCESS, true
	case "FAILURE":
		return NotifyFAILURE, true
	case "DELAY":
		return NotifyDELAY, true
	default:
		return 0, false
	}
}

// NotifyOn is RCPT TO's optional NOTIFY parameter: either the singleton
// NEVER, or a non-empty, duplicate-free subset of {SUCCESS, FAILURE, DELAY}.
type NotifyOn struct {
	Never  bool
	Values []NotifyValue
}

// OriginalForwardPath is RCPT TO's optional ORCPT parameter: an
// address-type label and a nested Address, separated by ';' on the wire.
type OriginalForwardPath struct {
	AddressType string
	Mailbox     Address
}

// HeloArgs is the argument record shared by HELO and EHLO.
type HeloArgs struct {
	Identity ClientIdentity
}

// MailFromArgs is the argument record of MAIL FROM. Every optional field that
// carries a value is a pointer so that its absence is represented as nil, per
// spec.md §3's "at most once" invariant — presence is tracked by the pointer,
// not a separate boolean. The valueless SMTPUTF8 flag is the plain bool
// UseSMTPUTF8.
type MailFromArgs struct {
	ReversePath Address
	Mime        *MimeBodyType
	Size        *uint64
	EnvelopeID  *string
	Ret         *RetType
	UseSMTPUTF8 bool
}

// RcptToArgs is the argument record of RCPT TO.
type RcptToArgs struct {
	ForwardPath Address
	Orcpt       *OriginalForwardPath
	NotifyOn    *NotifyOn
}

// Command is the tagged variant over every verb this package supports. Verb
// is the discriminant; only the argument field matching Verb is populated,
// the rest stay nil/zero. This mirrors daemon/smtpd/smtp/protocol.go's
// table-driven dispatch: a flat struct with a verb field, not an interface
// hierarchy (design note on command variant polymorphism).
type Command struct {
	Verb         Verb
	HeloArgs     *HeloArgs
	MailFromArgs *MailFromArgs
	RcptToArgs   *RcptToArgs
}

// HELO builds a HELO command.
func HELO(identity ClientIdentity) Command {
	return Command{Verb: VerbHELO, HeloArgs: &HeloArgs{Identity: identity}}
}

// EHLO builds an EHLO command.
func EHLO(identity ClientIdentity) Command {
	return Command{Verb: VerbEHLO, HeloArgs: &HeloArgs{Identity: identity}}
}

// MAILFROM builds a MAIL FROM command.
func MAILFROM(args MailFromArgs) Command {
	a := args
	return Command{Verb: VerbMAILFROM, MailFromArgs: &a}
}

// RCPTTO builds a RCPT TO command.
func RCPTTO(args RcptToArgs) Command {
	a := args
	return Command{Verb: VerbRCPTTO, RcptToArgs: &a}
}

// DATA, RSET, STARTTLS, NOOP and QUIT carry no arguments.
func DATA() Command     { return Command{Verb: VerbDATA} }
func RSET() Command     { return Command{Verb: VerbRSET} }
func STARTTLS() Command { return Command{Verb: VerbSTARTTLS} }
func NOOP() Command     { return Command{Verb: VerbNOOP} }
func QUIT() Command     { return Command{Verb: VerbQUIT} }

// decodeCommandLine parses exactly one command, given the full line
// including its trailing CRLF, per spec.md §4.1: verb matching happens
// against the raw line (some verb literals include the CRLF themselves),
// and only the argument text handed to each variant's parser has the CRLF
// stripped off.
func decodeCommandLine(lineWithCRLF string) (Command, error) {
	verb, rest, ok := matchVerb(lineWithCRLF)
	if !ok {
		return Command{}, newCommandUnknownError(lineWithCRLF)
	}
	arg := strings.TrimSpace(strings.TrimSuffix(rest, CRLF))
	switch verb {
	case VerbHELO:
		return HELO(ParseClientIdentity(arg)), nil
	case VerbEHLO:
		return EHLO(ParseClientIdentity(arg)), nil
	case VerbMAILFROM:
		return decodeMailFrom(arg)
	case VerbRCPTTO:
		return decodeRcptTo(arg)
	case VerbDATA:
		return DATA(), nil
	case VerbRSET:
		return RSET(), nil
	case VerbSTARTTLS:
		return STARTTLS(), nil
	case VerbNOOP:
		return NOOP(), nil
	case VerbQUIT:
		return QUIT(), nil
	default:
		return Command{}, newCommandUnknownError(lineWithCRLF)
	}
}

func decodeMailFrom(rest string) (Command, error) {
	fields := splitFields(rest)
	if len(fields) == 0 {
		return Command{}, ErrAddressNotFound
	}
	addr, err := ParseAddress(fields[0])
	if err != nil {
		return Command{}, err
	}
	args := MailFromArgs{ReversePath: addr}
	for _, tok := range fields[1:] {
		key, value, hasValue := splitOption(tok)
		switch strings.ToUpper(key) {
		case "BODY":
			if args.Mime != nil {
				return Command{}, newMailArgDuplicatedError("BODY")
			}
			mt, ok := parseMimeBodyType(value)
			if !ok {
				return Command{}, newMimeUnsupportedError(value)
			}
			args.Mime = &mt
		case "SIZE":
			if args.Size != nil {
				return Command{}, newMailArgDuplicatedError("SIZE")
			}
			if n, err := strconv.ParseUint(value, 10, 64); err == nil {
				args.Size = &n
			}
			// Overflow/parse failure: SIZE is treated as absent rather than
			// a hard decode error, per spec.md §4.1's "best-effort parse".
		case "ENVID":
			if args.EnvelopeID != nil {
				return Command{}, newMailArgDuplicatedError("ENVID")
			}
			v := value
			args.EnvelopeID = &v
		case "RET":
			if args.Ret != nil {
				return Command{}, newMailArgDuplicatedError("RET")
			}
			rt, ok := parseRetType(value)
			if !ok {
				return Command{}, newRetUnsupportedError(value)
			}
			args.Ret = &rt
		case "SMTPUTF8":
			if hasValue {
				return Command{}, newArgumentUnsupportedError(tok)
			}
			if args.UseSMTPUTF8 {
				return Command{}, newMailArgDuplicatedError("SMTPUTF8")
			}
			args.UseSMTPUTF8 = true
		default:
			return Command{}, newArgumentUnsupportedError(key)
		}
	}
	return MAILFROM(args), nil
}

func decodeRcptTo(rest string) (Command, error) {
	fields := splitFields(rest)
	if len(fields) == 0 {
		return Command{}, ErrAddressNotFound
	}
	addr, err := ParseAddress(fields[0])
	if err != nil {
		return Command{}, err
	}
	args := RcptToArgs{ForwardPath: addr}
	for _, tok := range fields[1:] {
		key, value, _ := splitOption(tok)
		switch strings.ToUpper(key) {
		case "ORCPT":
			if args.Orcpt != nil {
				return Command{}, newRcptArgDuplicatedError("ORCPT")
			}
			semi := strings.IndexByte(value, ';')
			if semi == -1 {
				return Command{}, newAddressUnparsableError(value)
			}
			addrType := value[:semi]
			nested, err := ParseAddress(value[semi+1:])
			if err != nil {
				return Command{}, newAddressUnparsableError(value)
			}
			args.Orcpt = &OriginalForwardPath{AddressType: addrType, Mailbox: nested}
		case "NOTIFY":
			if args.NotifyOn != nil {
				return Command{}, newRcptArgDuplicatedError("NOTIFY")
			}
			notify, err := parseNotifyOn(value)
			if err != nil {
				return Command{}, err
			}
			args.NotifyOn = notify
		default:
			return Command{}, newArgumentUnsupportedError(key)
		}
	}
	return RCPTTO(args), nil
}

func parseNotifyOn(value string) (*NotifyOn, error) {
	if strings.EqualFold(value, "NEVER") {
		return &NotifyOn{Never: true}, nil
	}
	tokens := strings.Split(value, ",")
	seen := make(map[NotifyValue]bool, len(tokens))
	values := make([]NotifyValue, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			return nil, ErrNotifyNotFound
		}
		nv, ok := parseNotifyValue(tok)
		if !ok {
			return nil, newNotifyUnsupportedError(tok)
		}
		if seen[nv] {
			return nil, newNotifyArgDuplicatedError(tok)
		}
		seen[nv] = true
		values = append(values, nv)
	}
	if len(values) == 0 {
		return nil, ErrNotifyNotFound
	}
	return &NotifyOn{Values: values}, nil
}

// splitOption scans tok to its first '=', returning the text before as key
// and after as value. If there is no '=', the whole token is the key and
// hasValue is false (used for the valueless SMTPUTF8 token).
func splitOption(tok string) (key, value string, hasValue bool) {
	eq := strings.IndexByte(tok, '=')
	if eq == -1 {
		return tok, "", false
	}
	return tok[:eq], tok[eq+1:], true
}

// Encode renders the command onto the wire, including its trailing CRLF
// where the verb literal does not already supply one.
func (c Command) Encode() ([]byte, error) {
	var b strings.Builder
	switch c.Verb {
	case VerbHELO:
		if c.HeloArgs == nil {
			return nil, ErrStringIsNil
		}
		b.WriteString("HELO ")
		b.WriteString(c.HeloArgs.Identity.String())
		b.WriteString(CRLF)
	case VerbEHLO:
		if c.HeloArgs == nil {
			return nil, ErrStringIsNil
		}
		b.WriteString("EHLO ")
		b.WriteString(c.HeloArgs.Identity.String())
		b.WriteString(CRLF)
	case VerbMAILFROM:
		if c.MailFromArgs == nil {
			return nil, ErrStringIsNil
		}
		b.WriteString("MAIL FROM:")
		b.WriteString(c.MailFromArgs.ReversePath.WireString())
		if c.MailFromArgs.Mime != nil {
			b.WriteString(" BODY=")
			b.WriteString(c.MailFromArgs.Mime.String())
		}
		if c.MailFromArgs.Size != nil {
			b.WriteString(" SIZE=")
			b.WriteString(strconv.FormatUint(*c.MailFromArgs.Size, 10))
		}
		if c.MailFromArgs.EnvelopeID != nil {
			b.WriteString(" ENVID=")
			b.WriteString(*c.MailFromArgs.EnvelopeID)
		}
		if c.MailFromArgs.Ret != nil {
			b.WriteString(" RET=")
			b.WriteString(c.MailFromArgs.Ret.String())
		}
		if c.MailFromArgs.UseSMTPUTF8 {
			// The bare token, no "=value" — see spec.md design note (v):
			// the source bug wrote "RET=" here by mistake.
			b.WriteString(" SMTPUTF8")
		}
		b.WriteString(CRLF)
	case VerbRCPTTO:
		if c.RcptToArgs == nil {
			return nil, ErrStringIsNil
		}
		b.WriteString("RCPT TO:")
		b.WriteString(c.RcptToArgs.ForwardPath.WireString())
		if c.RcptToArgs.Orcpt != nil {
			b.WriteString(" ORCPT=")
			b.WriteString(c.RcptToArgs.Orcpt.AddressType)
			b.WriteByte(';')
			b.WriteString(c.RcptToArgs.Orcpt.Mailbox.WireString())
		}
		if c.RcptToArgs.NotifyOn != nil {
			b.WriteString(" NOTIFY=")
			if c.RcptToArgs.NotifyOn.Never {
				b.WriteString("NEVER")
			} else {
				for i, v := range c.RcptToArgs.NotifyOn.Values {
					if i > 0 {
						b.WriteByte(',')
					}
					b.WriteString(v.String())
				}
			}
		}
		b.WriteString(CRLF)
	case VerbDATA:
		b.WriteString("DATA")
		b.WriteString(CRLF)
	case VerbRSET:
		b.WriteString("RSET")
		b.WriteString(CRLF)
	case VerbSTARTTLS:
		b.WriteString("STARTTLS")
		b.WriteString(CRLF)
	case VerbNOOP:
		b.WriteString("NOOP")
		b.WriteString(CRLF)
	case VerbQUIT:
		b.WriteString("QUIT")
		b.WriteString(CRLF)
	default:
		return nil, newCommandUnknownError(c.Verb.String())
	}
	return []byte(b.String()), nil
}
