package codec

import (
	"bytes"
	"errors"
	"math/big"
)

// ErrShortRead is the sentinel returned by every Reader method when the
// underlying buffer does not hold enough bytes for the requested value.
var ErrShortRead = errors.New("codec: short read")

// ErrOverflow is returned by Writer methods when a value does not fit in
// its declared wire width.
var ErrOverflow = errors.New("codec: value exceeds declared width")

// Writer accumulates a big-endian, width-fixed binary payload the way the
// native chain's wire messages and EVM call blobs are built.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteUint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf.Write([]byte{byte(v >> 8), byte(v)})
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func (w *Writer) WriteUint64(v uint64) {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	w.buf.Write(b)
}

// WriteUint128 writes v as a 16-byte big-endian field. An error is
// returned if v does not fit in 128 bits.
func (w *Writer) WriteUint128(v *big.Int) error {
	return w.writeFixed(v, 16)
}

// WriteUint256 writes v as a 32-byte big-endian field. An error is
// returned if v does not fit in 256 bits. It takes only *big.Int: native
// account strings and their hex form go through WriteUint256Account, and
// decimal strings are not parsed by this writer.
func (w *Writer) WriteUint256(v *big.Int) error {
	return w.writeFixed(v, 32)
}

// WriteUint256Account writes a native account string (or hex form) as a
// 32-byte field.
func (w *Writer) WriteUint256Account(account string) error {
	raw, _, err := DecodeAccount(account)
	if err != nil {
		return err
	}
	w.buf.Write(raw[:])
	return nil
}

func (w *Writer) writeFixed(v *big.Int, width int) error {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.BitLen() > width*8 {
		return ErrOverflow
	}
	w.buf.Write(v.FillBytes(make([]byte, width)))
	return nil
}

// WriteString writes a u16-length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) error {
	if len(s) > 0xffff {
		return ErrOverflow
	}
	w.WriteUint16(uint16(len(s)))
	w.buf.WriteString(s)
	return nil
}

// WriteBytes writes a u16-length-prefixed byte blob.
func (w *Writer) WriteBytes(b []byte) error {
	if len(b) > 0xffff {
		return ErrOverflow
	}
	w.WriteUint16(uint16(len(b)))
	w.buf.Write(b)
	return nil
}

// WriteFixedBytes writes exactly width bytes, erroring if b is longer.
func (w *Writer) WriteFixedBytes(b []byte, width int) error {
	if len(b) > width {
		return ErrOverflow
	}
	padded := make([]byte, width)
	copy(padded[width-len(b):], b)
	w.buf.Write(padded)
	return nil
}

// Reader consumes a buffer written by Writer, failing closed on any
// truncation.
type Reader struct {
	b   []byte
	pos int
}

// NewReader wraps b for sequential reads.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.b) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortRead
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, ErrShortRead
	}
	return v == 1, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func (r *Reader) ReadUint128() (*big.Int, error) {
	b, err := r.take(16)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func (r *Reader) ReadUint256() (*big.Int, error) {
	b, err := r.take(32)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func (r *Reader) ReadFixedBytes(width int) ([]byte, error) {
	b, err := r.take(width)
	if err != nil {
		return nil, err
	}
	out := make([]byte, width)
	copy(out, b)
	return out, nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
