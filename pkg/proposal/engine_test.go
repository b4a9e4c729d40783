package proposal

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/raicoin/validator-node/pkg/eip712"
	"github.com/raicoin/validator-node/pkg/validatorset"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).SetUint64(1_000_000_000_000_000_000))
}

type fakeTransport struct {
	nonce     *big.Int
	asked     []validatorset.ValidatorFullInfo
	upgraded  bool
	packedLen int
}

func (f *fakeTransport) SendUpgradeSign(targets []validatorset.ValidatorFullInfo, proposalId uint32, impl common.Address, nonce *big.Int) {
	f.asked = targets
}
func (f *fakeTransport) SendUpdateTokenVolatileSign(targets []validatorset.ValidatorFullInfo, proposalId uint32, token common.Address, volatile bool, nonce *big.Int) {
	f.asked = targets
}
func (f *fakeTransport) CoreNonce(ctx context.Context) (*big.Int, error) { return f.nonce, nil }
func (f *fakeTransport) Upgrade(ctx context.Context, impl common.Address, nonce *big.Int, packedSignatures []byte) (common.Hash, error) {
	f.upgraded = true
	f.packedLen = len(packedSignatures)
	return common.Hash{}, nil
}
func (f *fakeTransport) UpdateTokenVolatile(ctx context.Context, token common.Address, volatile bool, nonce *big.Int, packedSignatures []byte) (common.Hash, error) {
	return common.Hash{}, nil
}

func buildRoster() *validatorset.RosterState {
	r := validatorset.NewRosterState()
	r.SetGenesis([32]byte{0xaa}, common.HexToAddress("0xaaaa"))
	r.SetTotalWeight(e18(100))
	r.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{1}, Signer: common.HexToAddress("0x1"), Weight: e18(40)})
	r.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{2}, Signer: common.HexToAddress("0x2"), Weight: e18(30)})
	r.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{3}, Signer: common.HexToAddress("0x3"), Weight: e18(20)})
	return r
}

func TestProposalEngineHappyPath(t *testing.T) {
	roster := buildRoster()
	transport := &fakeTransport{nonce: big.NewInt(5)}
	contract := common.HexToAddress("0x000000000000000000000000000000000000Ab")
	domain := eip712.Domain{ChainId: 56, VerifyingContract: contract}

	impl := common.HexToAddress("0x000000000000000000000000000000000000Cd")
	table := map[uint32]Proposal{
		7: {
			ID:             7,
			Contract:       contract,
			Method:         MethodUpgrade,
			Upgrade:        &UpgradeParams{Impl: impl, Nonce: big.NewInt(5)},
			BeginTimestamp: 1_700_000_000 - 3600,
			EndTimestamp:   1_700_000_000 + 3600,
		},
	}

	engine := NewEngine(roster, transport, domain, contract)
	engine.SetProposals(table)

	now := int64(1_700_000_000)
	engine.Tick(context.Background(), now, true, true, true, nil)
	require.Equal(t, CollectSignatures, engine.State())
	require.NotEmpty(t, transport.asked)

	key1, err := eip712.NewSigner(randomHexKey())
	require.NoError(t, err)
	key2, err := eip712.NewSigner(randomHexKey())
	require.NoError(t, err)
	key3, err := eip712.NewSigner(randomHexKey())
	require.NoError(t, err)
	roster.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{1}, Signer: key1.Address(), Weight: e18(40)})
	roster.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{2}, Signer: key2.Address(), Weight: e18(30)})
	roster.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{3}, Signer: key3.Address(), Weight: e18(20)})

	msg := eip712.Upgrade{NewImplementation: impl, Nonce: big.NewInt(5)}
	sig1, err := key1.Sign(domain, msg)
	require.NoError(t, err)
	sig2, err := key2.Sign(domain, msg)
	require.NoError(t, err)

	replies := []SignatureReply{
		{Replier: [32]byte{1}, Signer: key1.Address(), Signature: sig1},
		{Replier: [32]byte{2}, Signer: key2.Address(), Signature: sig2},
	}
	engine.Tick(context.Background(), now+1, true, true, true, replies)
	require.True(t, transport.upgraded)
	require.Equal(t, IDLE, engine.State())
	require.Equal(t, 2*eip712.SignatureLength, transport.packedLen)
}

func TestProposalEngineRespectsCooldown(t *testing.T) {
	roster := buildRoster()
	transport := &fakeTransport{nonce: big.NewInt(5)}
	contract := common.HexToAddress("0x000000000000000000000000000000000000Ab")
	domain := eip712.Domain{ChainId: 56, VerifyingContract: contract}

	engine := NewEngine(roster, transport, domain, contract)
	engine.SetProposals(map[uint32]Proposal{
		7: {
			ID:             7,
			Contract:       contract,
			Method:         MethodUpgrade,
			Upgrade:        &UpgradeParams{Impl: common.HexToAddress("0x000000000000000000000000000000000000Cd"), Nonce: big.NewInt(5)},
			BeginTimestamp: 1_700_000_000 - 3600,
			EndTimestamp:   1_700_000_000 + 3600,
		},
	})
	engine.lastSubmit = 1_700_000_000
	engine.Tick(context.Background(), 1_700_000_100, true, true, true, nil)
	require.Equal(t, IDLE, engine.State())
	require.Empty(t, transport.asked)
}

var keyCounter byte

func randomHexKey() string {
	keyCounter++
	b := make([]byte, 32)
	b[31] = keyCounter
	b[0] = 0x22
	out := ""
	for _, v := range b {
		out += hexByte(v)
	}
	return out
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}
