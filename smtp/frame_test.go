package smtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplyFramerHandlesArbitraryChunking(t *testing.T) {
	whole := "250-greets you\r\n250-8BITMIME\r\n250 PIPELINING\r\n"
	for chunkSize := 1; chunkSize <= len(whole); chunkSize++ {
		framer := &ReplyFramer{}
		var got []Reply
		for i := 0; i < len(whole); i += chunkSize {
			end := i + chunkSize
			if end > len(whole) {
				end = len(whole)
			}
			framer.Feed([]byte(whole[i:end]))
			for {
				reply, ok, err := framer.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				got = append(got, reply)
			}
		}
		require.Lenf(t, got, 1, "chunk size %d", chunkSize)
		require.Equal(t, ReplyCode{2, 5, 0}, got[0].Code)
	}
}

func TestReplyFramerDecodesBackToBackGroups(t *testing.T) {
	framer := &ReplyFramer{}
	framer.Feed([]byte("220 hello\r\n250 OK\r\n"))

	first, ok, err := framer.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 220, first.Code.Value())

	second, ok, err := framer.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 250, second.Code.Value())

	_, ok, err = framer.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommandFramerStreamSafety(t *testing.T) {
	whole := "MAIL FROM:<a@b.com> SIZE=10\r\nRCPT TO:<c@d.com>\r\nDATA\r\n"
	framer := &CommandFramer{}
	var got []Command
	for i := 0; i < len(whole); i++ {
		framer.Feed([]byte{whole[i]})
		for {
			cmd, ok, err := framer.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, cmd)
		}
	}
	require.Len(t, got, 3)
	require.Equal(t, VerbMAILFROM, got[0].Verb)
	require.Equal(t, VerbRCPTTO, got[1].Verb)
	require.Equal(t, VerbDATA, got[2].Verb)
}

func TestOutboundEncodeKinds(t *testing.T) {
	single := SingleOutbound(NOOP())
	b, err := single.Encode()
	require.NoError(t, err)
	require.Equal(t, "NOOP\r\n", string(b))

	seq := SequenceOutbound(NOOP(), QUIT())
	b, err = seq.Encode()
	require.NoError(t, err)
	require.Equal(t, "NOOP\r\nQUIT\r\n", string(b))

	raw := RawOutbound([]byte("raw bytes"))
	b, err = raw.Encode()
	require.NoError(t, err)
	require.Equal(t, "raw bytes", string(b))
}

func TestCommandFrameTooLongRejected(t *testing.T) {
	line := "HELO " + string(make([]byte, MaxCommandLineLength)) + "\r\n"
	_, _, err := decodeCommandFrame([]byte(line))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, KindCommandTooLong, pe.Kind)
}

func TestCommandFrameMissingCRBeforeLF(t *testing.T) {
	_, _, err := decodeCommandFrame([]byte("NOOP\n"))
	require.ErrorIs(t, err, ErrCRLFNotFound)
}
