package codec

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint8(0x7f)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteUint16(0xbeef)
	w.WriteUint32(0xdeadbeef)
	w.WriteUint64(0x0123456789abcdef)
	require.NoError(t, w.WriteUint128(big.NewInt(12345)))
	require.NoError(t, w.WriteUint256(new(big.Int).SetUint64(9876543210)))
	require.NoError(t, w.WriteString("raicoin"))
	require.NoError(t, w.WriteBytes([]byte{1, 2, 3}))

	r := NewReader(w.Bytes())

	u8, err := r.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0x7f), u8)

	b1, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b1)

	b2, err := r.ReadBool()
	require.NoError(t, err)
	require.False(t, b2)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0xbeef), u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), u32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0123456789abcdef), u64)

	u128, err := r.ReadUint128()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(12345), u128)

	u256, err := r.ReadUint256()
	require.NoError(t, err)
	require.Equal(t, new(big.Int).SetUint64(9876543210), u256)

	str, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "raicoin", str)

	blob, err := r.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, blob)

	require.Zero(t, r.Remaining())
}

func TestBinaryUint256Account(t *testing.T) {
	raw := [32]byte{0x09}
	enc, err := EncodeAccount(raw)
	require.NoError(t, err)

	w := NewWriter()
	require.NoError(t, w.WriteUint256Account(enc))

	r := NewReader(w.Bytes())
	got, err := r.ReadFixedBytes(32)
	require.NoError(t, err)
	var gotArr [32]byte
	copy(gotArr[:], got)
	require.Equal(t, raw, gotArr)
}

func TestBinaryOverflow(t *testing.T) {
	w := NewWriter()
	tooWide := new(big.Int).Lsh(big.NewInt(1), 256) // 2^256 doesn't fit in 32 bytes
	require.ErrorIs(t, w.WriteUint256(tooWide), ErrOverflow)

	w2 := NewWriter()
	require.ErrorIs(t, w2.WriteUint128(tooWide), ErrOverflow)
}

func TestBinaryShortRead(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	_, err := r.ReadUint32()
	require.ErrorIs(t, err, ErrShortRead)

	r2 := NewReader([]byte{0x00, 0x05, 'a', 'b'})
	_, err = r2.ReadString()
	require.ErrorIs(t, err, ErrShortRead)
}
