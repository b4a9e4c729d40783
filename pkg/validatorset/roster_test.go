package validatorset

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).SetUint64(1_000_000_000_000_000_000))
}

func buildRoster(t *testing.T) *RosterState {
	t.Helper()
	r := NewRosterState()
	r.SetGenesis([32]byte{0xaa}, common.HexToAddress("0xaaaa"))
	r.SetTotalWeight(e18(100))
	r.UpdateValidator(ValidatorFullInfo{Validator: [32]byte{1}, Signer: common.HexToAddress("0x1"), Weight: e18(40)})
	r.UpdateValidator(ValidatorFullInfo{Validator: [32]byte{2}, Signer: common.HexToAddress("0x2"), Weight: e18(30)})
	r.UpdateValidator(ValidatorFullInfo{Validator: [32]byte{3}, Signer: common.HexToAddress("0x3"), Weight: e18(20)})
	r.UpdateValidator(ValidatorFullInfo{Validator: [32]byte{4}, Signer: common.HexToAddress("0x4"), Weight: e18(10)})
	return r
}

func TestRosterOrderedAndIndexed(t *testing.T) {
	r := buildRoster(t)
	snap := r.Snapshot()
	require.Len(t, snap, 4)
	for i := 1; i < len(snap); i++ {
		require.True(t, snap[i-1].Weight.Cmp(snap[i].Weight) >= 0)
	}
	require.Len(t, r.index, 4)
}

func TestGenesisWeightZeroWhenRosterCoversTotal(t *testing.T) {
	r := buildRoster(t)
	// roster sums to 100e18 == total weight, so genesis weight is 0.
	require.Zero(t, r.GenesisWeight().Sign())
}

func TestGenesisWeightPositiveWhenRosterUndershoots(t *testing.T) {
	r := buildRoster(t)
	r.SetTotalWeight(e18(150))
	require.Equal(t, e18(50), r.GenesisWeight())
}

func TestTopValidatorsReachesTarget(t *testing.T) {
	r := buildRoster(t)
	top := r.TopValidators(0.8)
	sum := new(big.Int)
	for _, v := range top {
		sum.Add(sum, v.Weight)
	}
	require.True(t, sum.Cmp(percentOf(r.TotalWeight(), 0.8)) >= 0)
}

func TestWeightThresholdMonotone(t *testing.T) {
	r := buildRoster(t)
	low := r.WeightThreshold(0.5)
	high := r.WeightThreshold(0.99)
	require.True(t, high.Cmp(low) <= 0)
}

func TestTotalWeightFloor(t *testing.T) {
	r := NewRosterState()
	r.SetTotalWeight(big.NewInt(1))
	require.Equal(t, MinTotalWeight, r.TotalWeight())
}

func TestActivityConfirmationGating(t *testing.T) {
	r := buildRoster(t)
	r.RecordActivity([32]byte{1}, 1000)

	require.Empty(t, r.ConfirmedActivities(1050, 96))
	require.Equal(t, 1, r.PendingActivityCount())

	confirmed := r.ConfirmedActivities(1096, 96)
	require.Len(t, confirmed, 1)
	require.Equal(t, 0, r.PendingActivityCount())
}

func TestRemoveValidator(t *testing.T) {
	r := buildRoster(t)
	r.RemoveValidator([32]byte{2})
	_, ok := r.ValidatorByID([32]byte{2})
	require.False(t, ok)
	require.Len(t, r.Snapshot(), 3)
}
