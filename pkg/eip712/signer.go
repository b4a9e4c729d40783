package eip712

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the wire size of every signature this package produces:
// 32-byte r, 32-byte s, 1-byte v.
const SignatureLength = 65

// ErrInvalidSignature is returned for any signature that is not exactly
// SignatureLength bytes or whose recovery id is outside {27,28}.
var ErrInvalidSignature = errors.New("eip712: invalid signature")

// Signer produces EIP-712 signatures with a fixed secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner loads a signer from a hex-encoded private key (with or
// without "0x").
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("eip712: parse private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's EVM address.
func (s *Signer) Address() common.Address { return s.address }

// Sign produces the 65-byte r‖s‖v signature (v ∈ {27,28}) over m under
// domain d.
func (s *Signer) Sign(d Domain, m TypedMessage) ([]byte, error) {
	digest := Digest(d, m)
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("eip712: sign: %w", err)
	}
	// crypto.Sign returns v in {0,1}; the wire/contract convention is {27,28}.
	sig[64] += 27
	return sig, nil
}

// Recover returns the address that produced sig over (d, m).
func Recover(d Domain, m TypedMessage, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	v := sig[64]
	if v != 27 && v != 28 {
		return common.Address{}, ErrInvalidSignature
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[64] = v - 27

	digest := Digest(d, m)
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("eip712: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig was produced by expected over (d, m),
// comparing addresses case-insensitively.
func Verify(d Domain, m TypedMessage, sig []byte, expected common.Address) bool {
	recovered, err := Recover(d, m, sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered.Hex(), expected.Hex())
}
