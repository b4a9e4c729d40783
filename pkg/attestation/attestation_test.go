package attestation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/raicoin/validator-node/pkg/eip712"
	"github.com/raicoin/validator-node/pkg/validatorset"
)

func TestInRewardTimeRangeNeverSubmitted(t *testing.T) {
	require.True(t, InRewardTimeRange(0, 1_700_000_000))
}

func TestInRewardTimeRangeScenario(t *testing.T) {
	now := int64(1_700_000_000)
	lastSubmit := now - RewardTime + 60
	require.False(t, InRewardTimeRange(lastSubmit, now))
	require.True(t, InRewardTimeRange(lastSubmit, now+2*3600))
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).SetUint64(1_000_000_000_000_000_000))
}

type fakeTransport struct {
	queried   []validatorset.ValidatorFullInfo
	signAsked []validatorset.ValidatorFullInfo
	submitted bool
	weight    *big.Int
	epoch     uint32
}

func (f *fakeTransport) SendWeightQuery(targets []validatorset.ValidatorFullInfo, epoch uint32) {
	f.queried = targets
}
func (f *fakeTransport) SendWeightSign(targets []validatorset.ValidatorFullInfo, weight *big.Int, epoch uint32) {
	f.signAsked = targets
	f.weight = weight
	f.epoch = epoch
}
func (f *fakeTransport) SubmitValidator(validator [32]byte, signer common.Address, weight *big.Int, epoch uint32, rewardTo common.Address, packed []byte) error {
	f.submitted = true
	return nil
}

func buildRoster() *validatorset.RosterState {
	r := validatorset.NewRosterState()
	r.SetGenesis([32]byte{0xaa}, common.HexToAddress("0xaaaa"))
	r.SetTotalWeight(e18(100))
	r.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{1}, Signer: common.HexToAddress("0x1"), Weight: e18(40)})
	r.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{2}, Signer: common.HexToAddress("0x2"), Weight: e18(30)})
	r.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{3}, Signer: common.HexToAddress("0x3"), Weight: e18(20)})
	r.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{4}, Signer: common.HexToAddress("0x4"), Weight: e18(10)})
	return r
}

func TestAttestationHappyPath(t *testing.T) {
	roster := buildRoster()
	transport := &fakeTransport{}
	domain := eip712.Domain{ChainId: 56, VerifyingContract: common.HexToAddress("0xvalidator")}
	local := [32]byte{2}

	svc := NewService(roster, transport, domain, local, false)

	now := int64(1_700_000_000)
	pre := RewardablePreconditions{
		ChainSynced: true, LocalSignerSet: true, LocalSignerIsBound: true,
		NodeAttachedSynced: true, SnapshotOrRosterWeightNonZero: true,
	}

	svc.Tick(now, pre, nil, nil)
	require.Equal(t, WeightQuery, svc.State())
	require.NotEmpty(t, transport.queried)

	w := e18(30)
	replies := []WeightReply{
		{Replier: [32]byte{1}, Weight: w, Epoch: svc.submissionEpoch},
		{Replier: [32]byte{2}, Weight: w, Epoch: svc.submissionEpoch},
		{Replier: [32]byte{3}, Weight: w, Epoch: svc.submissionEpoch},
	}
	svc.Tick(now+1, pre, replies, nil)
	require.Equal(t, CollectSignatures, svc.State())
	require.Equal(t, 0, w.Cmp(transport.weight))

	signerKey1, err := eip712.NewSigner(randomHexKey())
	require.NoError(t, err)
	signerKey2, err := eip712.NewSigner(randomHexKey())
	require.NoError(t, err)
	signerKey3, err := eip712.NewSigner(randomHexKey())
	require.NoError(t, err)

	roster.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{1}, Signer: signerKey1.Address(), Weight: e18(40)})
	roster.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{2}, Signer: signerKey2.Address(), Weight: e18(30)})
	roster.UpdateValidator(validatorset.ValidatorFullInfo{Validator: [32]byte{3}, Signer: signerKey3.Address(), Weight: e18(20)})

	msg := eip712.SubmitValidator{Validator: local, Signer: signerKey1.Address(), Weight: w, Epoch: svc.submissionEpoch}
	sig1, err := signerKey1.Sign(domain, eip712.SubmitValidator{Validator: local, Signer: signerKey1.Address(), Weight: w, Epoch: svc.submissionEpoch})
	require.NoError(t, err)
	_ = msg
	sig2, err := signerKey2.Sign(domain, eip712.SubmitValidator{Validator: local, Signer: signerKey2.Address(), Weight: w, Epoch: svc.submissionEpoch})
	require.NoError(t, err)
	sig3, err := signerKey3.Sign(domain, eip712.SubmitValidator{Validator: local, Signer: signerKey3.Address(), Weight: w, Epoch: svc.submissionEpoch})
	require.NoError(t, err)

	sigReplies := []SignatureReply{
		{Replier: [32]byte{1}, Signer: signerKey1.Address(), Weight: w, Epoch: svc.submissionEpoch, Signature: sig1},
		{Replier: [32]byte{2}, Signer: signerKey2.Address(), Weight: w, Epoch: svc.submissionEpoch, Signature: sig2},
		{Replier: [32]byte{3}, Signer: signerKey3.Address(), Weight: w, Epoch: svc.submissionEpoch, Signature: sig3},
	}
	svc.Tick(now+2, pre, nil, sigReplies)
	require.True(t, transport.submitted)
	require.Equal(t, IDLE, svc.State())
}

var keyCounter byte

func randomHexKey() string {
	keyCounter++
	b := make([]byte, 32)
	b[31] = keyCounter
	b[0] = 0x11
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
