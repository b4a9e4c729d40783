package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountRoundTrip(t *testing.T) {
	cases := [][32]byte{
		{},
		{0x01},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
	for _, raw := range cases {
		enc, err := EncodeAccount(raw)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(enc, accountPrefix))
		require.Len(t, enc, 64)

		decoded, sub, err := DecodeAccount(enc)
		require.NoError(t, err)
		require.Equal(t, raw, decoded)
		require.Empty(t, sub)
		require.True(t, CheckAccount(enc))
	}
}

func TestAccountSubaddress(t *testing.T) {
	raw := [32]byte{0x42}
	enc, err := EncodeAccount(raw)
	require.NoError(t, err)

	withSub := enc + "_sometag"
	decoded, sub, err := DecodeAccount(withSub)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
	require.Equal(t, "sometag", sub)
}

func TestAccountHexForm(t *testing.T) {
	const h = "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
	raw, sub, err := DecodeAccount(h)
	require.NoError(t, err)
	require.Empty(t, sub)
	require.Equal(t, byte(0x01), raw[0])
	require.Equal(t, byte(0x20), raw[31])

	bare := strings.TrimPrefix(h, "0x")
	raw2, _, err := DecodeAccount(bare)
	require.NoError(t, err)
	require.Equal(t, raw, raw2)
}

func TestAccountDecodeRejections(t *testing.T) {
	raw := [32]byte{0x07}
	enc, err := EncodeAccount(raw)
	require.NoError(t, err)

	cases := map[string]string{
		"too short":          enc[:40],
		"missing prefix":     "xai_" + enc[4:],
		"whitespace":         enc[:30] + " " + enc[31:],
		"bad lead char":      "rai_2" + enc[5:],
		"bad alphabet char":  "rai_1" + strings.Repeat("2", 59),
		"65th not underscore": enc + "x",
		"checksum mismatch":  flipLastChar(enc),
	}
	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeAccount(bad)
			require.Error(t, err)
			require.False(t, CheckAccount(bad))
		})
	}
}

func flipLastChar(s string) string {
	b := []byte(s)
	last := b[len(b)-1]
	for _, c := range []byte(accountLookup) {
		if c != last {
			b[len(b)-1] = c
			break
		}
	}
	return string(b)
}
