// Package codec implements the native-chain account codec and the
// canonical big-endian binary encoding used for every cross-chain
// payload and EVM contract argument blob.
package codec

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// accountLookup is the base-32 alphabet native accounts are rendered in.
const accountLookup = "13456789abcdefghijkmnopqrstuwxyz"

// accountReverse maps an ASCII byte (offset from 0x30) back to its 5-bit
// value, or 0xff for characters outside the alphabet.
var accountReverse [128 - 0x30]byte

func init() {
	for i := range accountReverse {
		accountReverse[i] = 0xff
	}
	for value, ch := range []byte(accountLookup) {
		accountReverse[ch-0x30] = byte(value)
	}
}

const accountPrefix = "rai_"

// ErrInvalidAccount is returned for any malformed native account string.
var ErrInvalidAccount = errors.New("codec: invalid native account")

func charDecode(c byte) byte {
	if c < 0x30 || int(c)-0x30 >= len(accountReverse) {
		return 0xff
	}
	return accountReverse[c-0x30]
}

func charEncode(v byte) (byte, bool) {
	if int(v) >= len(accountLookup) {
		return 0, false
	}
	return accountLookup[v], true
}

var checksumMask = new(big.Int).SetUint64(0xffffffffff) // 40 bits

// blake2bChecksum40 returns the 40-bit little-endian blake2b-5 checksum of
// raw, the same value the native client embeds in every encoded account.
func blake2bChecksum40(raw []byte) *big.Int {
	h, _ := blake2b.New(5, nil)
	h.Write(raw)
	sum := h.Sum(nil)
	v := new(big.Int)
	for i := len(sum) - 1; i >= 0; i-- {
		v.Lsh(v, 8)
		v.Or(v, big.NewInt(int64(sum[i])))
	}
	return v
}

// DecodeAccount parses a "rai_" account string (optionally followed by
// "_<subaddress>") into its 32-byte raw value plus any trailing
// subaddress segment. It also accepts a bare 64-character hex string.
func DecodeAccount(a string) (raw [32]byte, subaddress string, err error) {
	if isHex64(a) {
		h := strings.TrimPrefix(a, "0x")
		b, decErr := hex.DecodeString(h)
		if decErr != nil || len(b) != 32 {
			return raw, "", ErrInvalidAccount
		}
		copy(raw[:], b)
		return raw, "", nil
	}

	if len(a) < 64 || !strings.HasPrefix(a, accountPrefix) {
		return raw, "", ErrInvalidAccount
	}
	if strings.ContainsAny(a, " \r\n\t") {
		return raw, "", ErrInvalidAccount
	}
	if len(a) == 65 || (len(a) > 65 && a[64] != '_') {
		return raw, "", ErrInvalidAccount
	}
	if a[len(accountPrefix)] != '1' && a[len(accountPrefix)] != '3' {
		return raw, "", ErrInvalidAccount
	}

	number := new(big.Int)
	for i := len(accountPrefix); i < 64; i++ {
		d := charDecode(a[i])
		if d == 0xff {
			return raw, "", ErrInvalidAccount
		}
		number.Lsh(number, 5)
		number.Or(number, big.NewInt(int64(d)))
	}

	check := new(big.Int).And(number, checksumMask)
	rawInt := new(big.Int).Rsh(number, 40)
	rawBytes := rawInt.FillBytes(make([]byte, 32))

	if blake2bChecksum40(rawBytes).Cmp(check) != 0 {
		return raw, "", ErrInvalidAccount
	}
	copy(raw[:], rawBytes)

	if len(a) == 64 {
		return raw, "", nil
	}
	return raw, a[65:], nil
}

func isHex64(s string) bool {
	h := strings.TrimPrefix(s, "0x")
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// EncodeAccount renders a 32-byte raw account as the lowercase "rai_…"
// string form.
func EncodeAccount(raw [32]byte) (string, error) {
	check := blake2bChecksum40(raw[:])
	number := new(big.Int).SetBytes(raw[:])
	number.Lsh(number, 40)
	number.Or(number, check)

	out := make([]byte, 0, 64)
	thirtyTwo := big.NewInt(32)
	rem := new(big.Int)
	for i := 0; i < 60; i++ {
		number.DivMod(number, thirtyTwo, rem)
		e, ok := charEncode(byte(rem.Uint64()))
		if !ok {
			return "", ErrInvalidAccount
		}
		out = append(out, e)
	}
	out = append(out, []byte("_iar")...)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// CheckAccount reports whether a is a validly-encoded native account
// string (ignoring any trailing subaddress).
func CheckAccount(a string) bool {
	_, _, err := DecodeAccount(a)
	return err == nil
}
