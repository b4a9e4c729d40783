package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SubmitValidator attests a validator's weight for an epoch; signed by
// every validator whose signature feeds the weighted super-majority.
type SubmitValidator struct {
	Validator [32]byte
	Signer    common.Address
	Weight    *big.Int
	Epoch     uint32
}

func (m SubmitValidator) typeString() string {
	return "SubmitValidator(bytes32 validator,address signer,uint256 weight,uint32 epoch)"
}

func (m SubmitValidator) encodeFields() []byte {
	out := encodeBytes32(m.Validator)
	out = append(out, encodeAddress(m.Signer)...)
	out = append(out, encodeUint256(m.Weight)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(uint64(m.Epoch)))...)
	return out
}

// UnmapETH authorizes releasing native ETH back to the sender on the core
// contract.
type UnmapETH struct {
	Sender     [32]byte
	Recipient  common.Address
	TxnHash    [32]byte
	TxnHeight  uint64
	Amount     *big.Int
}

func (m UnmapETH) typeString() string {
	return "UnmapETH(bytes32 sender,address recipient,bytes32 txnHash,uint64 txnHeight,uint256 amount)"
}

func (m UnmapETH) encodeFields() []byte {
	out := encodeBytes32(m.Sender)
	out = append(out, encodeAddress(m.Recipient)...)
	out = append(out, encodeBytes32(m.TxnHash)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(m.TxnHeight))...)
	out = append(out, encodeUint256(m.Amount)...)
	return out
}

// UnmapERC20 authorizes releasing a wrapped ERC-20 share back to the sender.
type UnmapERC20 struct {
	Token     common.Address
	Sender    [32]byte
	Recipient common.Address
	TxnHash   [32]byte
	TxnHeight uint64
	Share     *big.Int
}

func (m UnmapERC20) typeString() string {
	return "UnmapERC20(address token,bytes32 sender,address recipient,bytes32 txnHash,uint64 txnHeight,uint256 share)"
}

func (m UnmapERC20) encodeFields() []byte {
	out := encodeAddress(m.Token)
	out = append(out, encodeBytes32(m.Sender)...)
	out = append(out, encodeAddress(m.Recipient)...)
	out = append(out, encodeBytes32(m.TxnHash)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(m.TxnHeight))...)
	out = append(out, encodeUint256(m.Share)...)
	return out
}

// UnmapERC721 authorizes releasing a wrapped NFT back to the sender.
type UnmapERC721 struct {
	Token     common.Address
	Sender    [32]byte
	Recipient common.Address
	TxnHash   [32]byte
	TxnHeight uint64
	TokenId   *big.Int
}

func (m UnmapERC721) typeString() string {
	return "UnmapERC721(address token,bytes32 sender,address recipient,bytes32 txnHash,uint64 txnHeight,uint256 tokenId)"
}

func (m UnmapERC721) encodeFields() []byte {
	out := encodeAddress(m.Token)
	out = append(out, encodeBytes32(m.Sender)...)
	out = append(out, encodeAddress(m.Recipient)...)
	out = append(out, encodeBytes32(m.TxnHash)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(m.TxnHeight))...)
	out = append(out, encodeUint256(m.TokenId)...)
	return out
}

// WrapERC20Token authorizes minting a wrapped ERC-20 balance for a native
// deposit that bridges in from originalChainId.
type WrapERC20Token struct {
	OriginalChainId  uint32
	OriginalContract [32]byte
	Sender           [32]byte
	Recipient        common.Address
	TxnHash          [32]byte
	TxnHeight        uint64
	Amount           *big.Int
}

func (m WrapERC20Token) typeString() string {
	return "WrapERC20Token(uint32 originalChainId,bytes32 originalContract,bytes32 sender,address recipient,bytes32 txnHash,uint64 txnHeight,uint256 amount)"
}

func (m WrapERC20Token) encodeFields() []byte {
	out := encodeUint256(new(big.Int).SetUint64(uint64(m.OriginalChainId)))
	out = append(out, encodeBytes32(m.OriginalContract)...)
	out = append(out, encodeBytes32(m.Sender)...)
	out = append(out, encodeAddress(m.Recipient)...)
	out = append(out, encodeBytes32(m.TxnHash)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(m.TxnHeight))...)
	out = append(out, encodeUint256(m.Amount)...)
	return out
}

// WrapERC721Token authorizes minting a wrapped NFT for a native deposit.
type WrapERC721Token struct {
	OriginalChainId  uint32
	OriginalContract [32]byte
	Sender           [32]byte
	Recipient        common.Address
	TxnHash          [32]byte
	TxnHeight        uint64
	TokenId          *big.Int
}

func (m WrapERC721Token) typeString() string {
	return "WrapERC721Token(uint32 originalChainId,bytes32 originalContract,bytes32 sender,address recipient,bytes32 txnHash,uint64 txnHeight,uint256 tokenId)"
}

func (m WrapERC721Token) encodeFields() []byte {
	out := encodeUint256(new(big.Int).SetUint64(uint64(m.OriginalChainId)))
	out = append(out, encodeBytes32(m.OriginalContract)...)
	out = append(out, encodeBytes32(m.Sender)...)
	out = append(out, encodeAddress(m.Recipient)...)
	out = append(out, encodeBytes32(m.TxnHash)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(m.TxnHeight))...)
	out = append(out, encodeUint256(m.TokenId)...)
	return out
}

// CreateWrappedERC20Token authorizes deploying a new wrapped ERC-20 token
// contract mirroring a native/foreign original.
type CreateWrappedERC20Token struct {
	Name             string
	Symbol           string
	OriginalChain    string
	OriginalChainId  uint32
	OriginalContract [32]byte
	Decimals         uint8
}

func (m CreateWrappedERC20Token) typeString() string {
	return "CreateWrappedERC20Token(string name,string symbol,string originalChain,uint32 originalChainId,bytes32 originalContract,uint8 decimals)"
}

func (m CreateWrappedERC20Token) encodeFields() []byte {
	out := encodeString(m.Name)
	out = append(out, encodeString(m.Symbol)...)
	out = append(out, encodeString(m.OriginalChain)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(uint64(m.OriginalChainId)))...)
	out = append(out, encodeBytes32(m.OriginalContract)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(uint64(m.Decimals)))...)
	return out
}

// CreateWrappedERC721Token authorizes deploying a new wrapped NFT contract.
type CreateWrappedERC721Token struct {
	Name             string
	Symbol           string
	OriginalChain    string
	OriginalChainId  uint32
	OriginalContract [32]byte
}

func (m CreateWrappedERC721Token) typeString() string {
	return "CreateWrappedERC721Token(string name,string symbol,string originalChain,uint32 originalChainId,bytes32 originalContract)"
}

func (m CreateWrappedERC721Token) encodeFields() []byte {
	out := encodeString(m.Name)
	out = append(out, encodeString(m.Symbol)...)
	out = append(out, encodeString(m.OriginalChain)...)
	out = append(out, encodeUint256(new(big.Int).SetUint64(uint64(m.OriginalChainId)))...)
	out = append(out, encodeBytes32(m.OriginalContract)...)
	return out
}

// Upgrade authorizes replacing the core contract's implementation.
type Upgrade struct {
	NewImplementation common.Address
	Nonce             *big.Int
}

func (m Upgrade) typeString() string {
	return "Upgrade(address newImplementation,uint256 nonce)"
}

func (m Upgrade) encodeFields() []byte {
	out := encodeAddress(m.NewImplementation)
	out = append(out, encodeUint256(m.Nonce)...)
	return out
}

// UpdateTokenVolatile authorizes flipping a wrapped token's volatility flag.
type UpdateTokenVolatile struct {
	Token    common.Address
	Volatile bool
	Nonce    *big.Int
}

func (m UpdateTokenVolatile) typeString() string {
	return "UpdateTokenVolatile(address token,bool volatile,uint256 nonce)"
}

func (m UpdateTokenVolatile) encodeFields() []byte {
	out := encodeAddress(m.Token)
	out = append(out, encodeBool(m.Volatile)...)
	out = append(out, encodeUint256(m.Nonce)...)
	return out
}
