package smtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplyRoundTripSingleLine(t *testing.T) {
	r := NewReply(250, "OK")
	encoded, err := r.Encode()
	require.NoError(t, err)
	require.Equal(t, "250 OK\r\n", string(encoded))

	decoded, n, err := decodeReplyGroup(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, r.Code, decoded.Code)
}

func TestReplyRoundTripMultiLine(t *testing.T) {
	r := NewReply(250, "example.com greets you\r\n8BITMIME\r\nPIPELINING\r\n")
	encoded, err := r.Encode()
	require.NoError(t, err)
	require.Equal(t, "250-example.com greets you\r\n250-8BITMIME\r\n250 PIPELINING\r\n", string(encoded))

	decoded, n, err := decodeReplyGroup(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, r.Code, decoded.Code)
	require.Equal(t, r.Message, decoded.Message)
}

func TestReplyDecoderAsksForMoreOnIncompleteGroup(t *testing.T) {
	_, _, err := decodeReplyGroup([]byte("250-partial line, no CRLF yet"))
	require.Equal(t, errIncomplete, err)
}

func TestReplyDecoderIncompleteAcrossMultipleLines(t *testing.T) {
	_, _, err := decodeReplyGroup([]byte("250-first\r\n250-sec"))
	require.Equal(t, errIncomplete, err)
}

func TestReplyDecoderRejectsMismatchedCodes(t *testing.T) {
	_, _, err := decodeReplyGroup([]byte("250-first\r\n251 second\r\n"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindReplyCodesDiffer, pe.Kind)
}

func TestReplyDecoderRejectsBadSignByte(t *testing.T) {
	_, _, err := decodeReplyGroup([]byte("250xOK\r\n"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindReplySignBad, pe.Kind)
}

func TestReplyDecoderRejectsOverLongGroup(t *testing.T) {
	var data []byte
	for i := 0; i < MaxReplyGroupLength; i++ {
		data = append(data, []byte("250-x\r\n")...)
	}
	data = append(data, []byte("250 done\r\n")...)
	_, _, err := decodeReplyGroup(data)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindReplyTooLong, pe.Kind)
}

// decodeReplyGroup must report exactly the group's byte length as consumed,
// not one more, per spec.md design note (ii): "500 " (4-char code+sign, empty
// text) is a well-formed single-line reply of 6 bytes.
func TestReplyDecoderExactLengthNoOffByOne(t *testing.T) {
	decoded, n, err := decodeReplyGroup([]byte("500 \r\n"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "", decoded.Message[:len(decoded.Message)-2])
}
