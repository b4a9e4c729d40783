package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

var allMessages = []TypedMessage{
	SubmitValidator{Validator: [32]byte{1}, Signer: common.HexToAddress("0x1"), Weight: big.NewInt(42), Epoch: 7},
	UnmapETH{Sender: [32]byte{2}, Recipient: common.HexToAddress("0x2"), TxnHash: [32]byte{3}, TxnHeight: 100, Amount: big.NewInt(9)},
	UnmapERC20{Token: common.HexToAddress("0x3"), Sender: [32]byte{4}, Recipient: common.HexToAddress("0x4"), TxnHash: [32]byte{5}, TxnHeight: 101, Share: big.NewInt(8)},
	UnmapERC721{Token: common.HexToAddress("0x5"), Sender: [32]byte{6}, Recipient: common.HexToAddress("0x6"), TxnHash: [32]byte{7}, TxnHeight: 102, TokenId: big.NewInt(3)},
	WrapERC20Token{OriginalChainId: 3, OriginalContract: [32]byte{8}, Sender: [32]byte{9}, Recipient: common.HexToAddress("0x7"), TxnHash: [32]byte{10}, TxnHeight: 103, Amount: big.NewInt(5)},
	WrapERC721Token{OriginalChainId: 4, OriginalContract: [32]byte{11}, Sender: [32]byte{12}, Recipient: common.HexToAddress("0x8"), TxnHash: [32]byte{13}, TxnHeight: 104, TokenId: big.NewInt(2)},
	CreateWrappedERC20Token{Name: "Wrapped Foo", Symbol: "wFOO", OriginalChain: "ethereum", OriginalChainId: 3, OriginalContract: [32]byte{14}, Decimals: 18},
	CreateWrappedERC721Token{Name: "Wrapped Bar", Symbol: "wBAR", OriginalChain: "bsc", OriginalChainId: 4, OriginalContract: [32]byte{15}},
	Upgrade{NewImplementation: common.HexToAddress("0x9"), Nonce: big.NewInt(1)},
	UpdateTokenVolatile{Token: common.HexToAddress("0xa"), Volatile: true, Nonce: big.NewInt(2)},
}

func TestSignAndRecoverAllMessageKinds(t *testing.T) {
	signer := testSigner(t)
	domain := Domain{ChainId: 1, VerifyingContract: common.HexToAddress("0xcore")}

	for _, m := range allMessages {
		sig, err := signer.Sign(domain, m)
		require.NoError(t, err)
		require.Len(t, sig, SignatureLength)
		require.Contains(t, []byte{27, 28}, sig[64])

		recovered, err := Recover(domain, m, sig)
		require.NoError(t, err)
		require.Equal(t, signer.Address(), recovered)
		require.True(t, Verify(domain, m, sig, signer.Address()))
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	signer := testSigner(t)
	other := testSigner(t)
	domain := Domain{ChainId: 1, VerifyingContract: common.HexToAddress("0xcore")}
	m := allMessages[0]

	sig, err := signer.Sign(domain, m)
	require.NoError(t, err)
	require.False(t, Verify(domain, m, sig, other.Address()))
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	domain := Domain{ChainId: 1, VerifyingContract: common.HexToAddress("0xcore")}
	m := allMessages[0]

	_, err := Recover(domain, m, make([]byte, 64))
	require.ErrorIs(t, err, ErrInvalidSignature)

	bad := make([]byte, SignatureLength)
	bad[64] = 5
	_, err = Recover(domain, m, bad)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDomainSeparatorDiffersByChainAndContract(t *testing.T) {
	a := Domain{ChainId: 1, VerifyingContract: common.HexToAddress("0x1")}
	b := Domain{ChainId: 56, VerifyingContract: common.HexToAddress("0x1")}
	c := Domain{ChainId: 1, VerifyingContract: common.HexToAddress("0x2")}
	require.NotEqual(t, a.Separator(), b.Separator())
	require.NotEqual(t, a.Separator(), c.Separator())
}
