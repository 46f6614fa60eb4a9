package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(``),
		[]byte(`hi`),
		bytes.Repeat([]byte(`x`), MaxMessageSize-HeaderSize),
	}
	for _, p := range cases {
		for _, gz := range []bool{false, true} {
			framed, err := Encode(p, gz)
			require.NoError(t, err)

			payload, rest, complete, err := Decode(framed)
			require.NoError(t, err)
			require.True(t, complete)
			require.Empty(t, rest)
			require.Equal(t, p, payload)
		}
	}
}

func TestOversizePayloadRejectedAtEncode(t *testing.T) {
	_, err := Encode(bytes.Repeat([]byte(`x`), MaxMessageSize), false)
	require.ErrorIs(t, err, ErrOversize)
}

func TestIncompleteFrame(t *testing.T) {
	framed, err := Encode([]byte(`hello world`), false)
	require.NoError(t, err)

	for n := 0; n < len(framed); n++ {
		_, _, complete, err := Decode(framed[:n])
		require.NoError(t, err)
		require.False(t, complete, "prefix of length %d should be incomplete", n)
	}

	_, _, complete, err := Decode(framed)
	require.NoError(t, err)
	require.True(t, complete)
}

func TestExactLengthFrameIsParseable(t *testing.T) {
	// Regression test for the reference implementation's off-by-one: a
	// buffer of precisely HeaderSize+size bytes must parse.
	framed, err := Encode([]byte(`abc`), false)
	require.NoError(t, err)
	require.Len(t, framed, HeaderSize+3)

	payload, rest, complete, err := Decode(framed)
	require.NoError(t, err)
	require.True(t, complete)
	require.Empty(t, rest)
	require.Equal(t, []byte(`abc`), payload)
}

func TestConcatenatedFrames(t *testing.T) {
	f1, _ := Encode([]byte(`x`), false)
	f2, _ := Encode([]byte(`y`), false)
	buf := append(append([]byte{}, f1...), f2...)

	p1, rest, complete, err := Decode(buf)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, []byte(`x`), p1)

	p2, rest, complete, err := Decode(rest)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, []byte(`y`), p2)
	require.Empty(t, rest)
}

func TestUnknownFlagBitsIgnored(t *testing.T) {
	framed, err := Encode([]byte(`abc`), false)
	require.NoError(t, err)
	// set an unused high bit
	framed[7] |= 0x80

	payload, _, complete, err := Decode(framed)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, []byte(`abc`), payload)
}
