// Package eip712 builds, signs and verifies the typed-data messages the
// validator exchanges with its peers: weight attestations, transfer and
// creation signatures, and governance proposals.
package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the fixed EIP-712 domain every message in this package signs
// against: {name:"Raicoin", version:"1.0", chainId, verifyingContract}.
type Domain struct {
	ChainId           uint64
	VerifyingContract common.Address
}

const (
	domainName    = "Raicoin"
	domainVersion = "1.0"
)

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Separator computes the domain separator hash for d.
func (d Domain) Separator() common.Hash {
	fields := make([]byte, 0, 32*4)
	fields = append(fields, domainTypeHash.Bytes()...)
	fields = append(fields, crypto.Keccak256([]byte(domainName))...)
	fields = append(fields, crypto.Keccak256([]byte(domainVersion))...)
	fields = append(fields, encodeUint256(new(big.Int).SetUint64(d.ChainId))...)
	fields = append(fields, encodeAddress(d.VerifyingContract)...)
	return crypto.Keccak256Hash(fields)
}

// TypedMessage is any of the ten struct kinds this package signs: it knows
// its own EIP-712 type string and how to encode its struct-hash preimage.
type TypedMessage interface {
	typeString() string
	encodeFields() []byte
}

var typeHashCache = map[string]common.Hash{}

func typeHash(m TypedMessage) common.Hash {
	s := m.typeString()
	if h, ok := typeHashCache[s]; ok {
		return h
	}
	h := crypto.Keccak256Hash([]byte(s))
	typeHashCache[s] = h
	return h
}

// StructHash returns keccak256(typeHash ‖ encoded fields), the struct hash
// fed into the final digest.
func StructHash(m TypedMessage) common.Hash {
	preimage := make([]byte, 0, 32+len(m.encodeFields()))
	th := typeHash(m)
	preimage = append(preimage, th.Bytes()...)
	preimage = append(preimage, m.encodeFields()...)
	return crypto.Keccak256Hash(preimage)
}

// Digest returns the final EIP-712 digest: keccak256(0x1901 ‖ domainSeparator ‖ structHash).
func Digest(d Domain, m TypedMessage) common.Hash {
	sep := d.Separator()
	sh := StructHash(m)
	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, sep.Bytes()...)
	buf = append(buf, sh.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

func encodeUint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func encodeAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func encodeBytes32(b [32]byte) []byte {
	out := make([]byte, 32)
	copy(out, b[:])
	return out
}

func encodeBool(v bool) []byte {
	out := make([]byte, 32)
	if v {
		out[31] = 1
	}
	return out
}

func encodeString(s string) []byte {
	h := crypto.Keccak256([]byte(s))
	out := make([]byte, 32)
	copy(out, h)
	return out
}
