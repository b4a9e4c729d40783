// Package crosschain implements the binary, big-endian envelope carried
// inside every node "cross_chain" frame: a one-byte message type tag
// followed by a type-specific payload, optionally trailing a 65-byte
// EIP-712 signature.
package crosschain

import (
	"errors"
	"math/big"

	"github.com/raicoin/validator-node/pkg/codec"
)

// MessageType tags the variant encoded in a cross-chain payload.
type MessageType uint8

const (
	WeightSign          MessageType = 1
	TransferSign        MessageType = 2
	CreationSign        MessageType = 3
	UpgradeSign         MessageType = 4
	UpdateTokenVolatile MessageType = 5
)

// Opcode identifies the transfer direction a TransferSign message signs for.
type Opcode uint8

const (
	OpMap    Opcode = 1
	OpUnmap  Opcode = 2
	OpWrap   Opcode = 3
	OpUnwrap Opcode = 4
)

// ErrUnknownMessageType is returned when a payload's leading byte does not
// match any known variant.
var ErrUnknownMessageType = errors.New("crosschain: unknown message type")

// ErrMalformedPayload is returned for any structurally invalid payload:
// too short for its fields, invalid opcode, or bytes left over after
// the last field.
var ErrMalformedPayload = errors.New("crosschain: malformed payload")

// Envelope is the common shape every variant decodes into: the message
// type, whether this is a request (true) or an acknowledgement/reply
// carrying a signature (false), and the variant-specific body.
type Envelope struct {
	Type    MessageType
	IsReq   bool
	Body    any
}

// WeightSignMessage attests that Signer holds Weight for Validator as of
// Epoch; IsReq=false carries Signature.
type WeightSignMessage struct {
	Validator [32]byte
	Signer    [32]byte
	Weight    *big.Int
	Epoch     uint32
	Signature []byte
}

// TransferSignMessage requests or carries a signature authorizing a
// map/unmap/wrap/unwrap transfer for Account at Height.
type TransferSignMessage struct {
	Account   [32]byte
	Height    uint64
	Opcode    Opcode
	ReqId     *big.Int
	Signature []byte
}

// CreationSignMessage requests or carries a signature authorizing
// creation of a wrapped token for an original contract on OrigChainId.
type CreationSignMessage struct {
	OrigChainId  uint32
	OrigContract *big.Int
	ReqId        *big.Int
	Signature    []byte
}

// UpgradeSignMessage requests or carries a signature authorizing
// replacing a core contract's implementation.
type UpgradeSignMessage struct {
	ProposalId uint32
	Impl       *big.Int
	Nonce      *big.Int
	Signature  []byte
}

// UpdateTokenVolatileMessage requests or carries a signature authorizing
// flipping a wrapped token's volatility flag.
type UpdateTokenVolatileMessage struct {
	ProposalId uint32
	Token      *big.Int
	Volatile   bool
	Nonce      *big.Int
	Signature  []byte
}

func writeOptionalSig(w *codec.Writer, sig []byte) error {
	return w.WriteBytes(sig)
}

func readOptionalSig(r *codec.Reader) ([]byte, error) {
	return r.ReadBytes()
}

// Encode serializes e to its wire form.
func Encode(e Envelope) ([]byte, error) {
	w := codec.NewWriter()
	w.WriteUint8(uint8(e.Type))
	w.WriteBool(e.IsReq)

	switch body := e.Body.(type) {
	case WeightSignMessage:
		if e.Type != WeightSign {
			return nil, ErrMalformedPayload
		}
		if err := w.WriteUint256(rawToBig(body.Validator)); err != nil {
			return nil, err
		}
		if err := w.WriteUint256(rawToBig(body.Signer)); err != nil {
			return nil, err
		}
		if err := w.WriteUint128(body.Weight); err != nil {
			return nil, err
		}
		w.WriteUint32(body.Epoch)
		if !e.IsReq {
			if err := writeOptionalSig(w, body.Signature); err != nil {
				return nil, err
			}
		}

	case TransferSignMessage:
		if e.Type != TransferSign {
			return nil, ErrMalformedPayload
		}
		if err := w.WriteUint256(rawToBig(body.Account)); err != nil {
			return nil, err
		}
		w.WriteUint64(body.Height)
		w.WriteUint8(uint8(body.Opcode))
		if err := w.WriteUint256(body.ReqId); err != nil {
			return nil, err
		}
		if !e.IsReq {
			if err := writeOptionalSig(w, body.Signature); err != nil {
				return nil, err
			}
		}

	case CreationSignMessage:
		if e.Type != CreationSign {
			return nil, ErrMalformedPayload
		}
		w.WriteUint32(body.OrigChainId)
		if err := w.WriteUint256(body.OrigContract); err != nil {
			return nil, err
		}
		if err := w.WriteUint256(body.ReqId); err != nil {
			return nil, err
		}
		if !e.IsReq {
			if err := writeOptionalSig(w, body.Signature); err != nil {
				return nil, err
			}
		}

	case UpgradeSignMessage:
		if e.Type != UpgradeSign {
			return nil, ErrMalformedPayload
		}
		w.WriteUint32(body.ProposalId)
		if err := w.WriteUint256(body.Impl); err != nil {
			return nil, err
		}
		if err := w.WriteUint256(body.Nonce); err != nil {
			return nil, err
		}
		if !e.IsReq {
			if err := writeOptionalSig(w, body.Signature); err != nil {
				return nil, err
			}
		}

	case UpdateTokenVolatileMessage:
		if e.Type != UpdateTokenVolatile {
			return nil, ErrMalformedPayload
		}
		w.WriteUint32(body.ProposalId)
		if err := w.WriteUint256(body.Token); err != nil {
			return nil, err
		}
		w.WriteBool(body.Volatile)
		if err := w.WriteUint256(body.Nonce); err != nil {
			return nil, err
		}
		if !e.IsReq {
			if err := writeOptionalSig(w, body.Signature); err != nil {
				return nil, err
			}
		}

	default:
		return nil, ErrMalformedPayload
	}

	return w.Bytes(), nil
}

// Decode parses a wire payload into its Envelope, selecting the variant
// from the leading type byte.
func Decode(payload []byte) (Envelope, error) {
	r := codec.NewReader(payload)
	finish := func(e Envelope) (Envelope, error) {
		if r.Remaining() != 0 {
			return Envelope{}, ErrMalformedPayload
		}
		return e, nil
	}
	t, err := r.ReadUint8()
	if err != nil {
		return Envelope{}, ErrMalformedPayload
	}
	isReq, err := r.ReadBool()
	if err != nil {
		return Envelope{}, ErrMalformedPayload
	}

	switch MessageType(t) {
	case WeightSign:
		validator, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		signer, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		weight, err := r.ReadUint128()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		epoch, err := r.ReadUint32()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		body := WeightSignMessage{Validator: bigToRaw(validator), Signer: bigToRaw(signer), Weight: weight, Epoch: epoch}
		if !isReq {
			sig, err := readOptionalSig(r)
			if err != nil {
				return Envelope{}, ErrMalformedPayload
			}
			body.Signature = sig
		}
		return finish(Envelope{Type: WeightSign, IsReq: isReq, Body: body})

	case TransferSign:
		account, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		height, err := r.ReadUint64()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		opcode, err := r.ReadUint8()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		if opcode < uint8(OpMap) || opcode > uint8(OpUnwrap) {
			return Envelope{}, ErrMalformedPayload
		}
		reqId, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		body := TransferSignMessage{Account: bigToRaw(account), Height: height, Opcode: Opcode(opcode), ReqId: reqId}
		if !isReq {
			sig, err := readOptionalSig(r)
			if err != nil {
				return Envelope{}, ErrMalformedPayload
			}
			body.Signature = sig
		}
		return finish(Envelope{Type: TransferSign, IsReq: isReq, Body: body})

	case CreationSign:
		origChainId, err := r.ReadUint32()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		origContract, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		reqId, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		body := CreationSignMessage{OrigChainId: origChainId, OrigContract: origContract, ReqId: reqId}
		if !isReq {
			sig, err := readOptionalSig(r)
			if err != nil {
				return Envelope{}, ErrMalformedPayload
			}
			body.Signature = sig
		}
		return finish(Envelope{Type: CreationSign, IsReq: isReq, Body: body})

	case UpgradeSign:
		proposalId, err := r.ReadUint32()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		impl, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		nonce, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		body := UpgradeSignMessage{ProposalId: proposalId, Impl: impl, Nonce: nonce}
		if !isReq {
			sig, err := readOptionalSig(r)
			if err != nil {
				return Envelope{}, ErrMalformedPayload
			}
			body.Signature = sig
		}
		return finish(Envelope{Type: UpgradeSign, IsReq: isReq, Body: body})

	case UpdateTokenVolatile:
		proposalId, err := r.ReadUint32()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		token, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		volatile, err := r.ReadBool()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		nonce, err := r.ReadUint256()
		if err != nil {
			return Envelope{}, ErrMalformedPayload
		}
		body := UpdateTokenVolatileMessage{ProposalId: proposalId, Token: token, Volatile: volatile, Nonce: nonce}
		if !isReq {
			sig, err := readOptionalSig(r)
			if err != nil {
				return Envelope{}, ErrMalformedPayload
			}
			body.Signature = sig
		}
		return finish(Envelope{Type: UpdateTokenVolatile, IsReq: isReq, Body: body})

	default:
		return Envelope{}, ErrUnknownMessageType
	}
}

func rawToBig(raw [32]byte) *big.Int {
	return new(big.Int).SetBytes(raw[:])
}

func bigToRaw(v *big.Int) [32]byte {
	var out [32]byte
	v.FillBytes(out[:])
	return out
}
