// Package validatorset tracks a single EVM chain's on-chain validator
// roster: weight-ordered membership, the genesis validator's implicit
// weight, and the confirmation-delayed activity log that keeps the two
// in sync.
package validatorset

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MinTotalWeight is the floor applied to every on-chain total-weight
// read: a freshly deployed validator contract reports less than this
// before any validator has submitted, and treating it as zero would make
// every percent-of-total-weight threshold trivially satisfiable.
var MinTotalWeight = new(big.Int).SetUint64(20_000_000_000_000_000) // 2e16

// ValidatorFullInfo mirrors the on-chain validator record.
type ValidatorFullInfo struct {
	Validator  [32]byte
	Signer     common.Address
	Weight     *big.Int
	GasPrice   *big.Int
	LastSubmit uint32
	Epoch      uint32
}

// ValidatorActivity tracks a validator whose roster state changed at
// LogHeight but has not yet cleared the chain's confirmation depth.
type ValidatorActivity struct {
	Validator  [32]byte
	LogHeight  uint64
	SyncHeight uint64
}

// RosterState is the mutable, weight-ordered validator set for one chain,
// owned exclusively by that chain's tick task.
type RosterState struct {
	mu sync.RWMutex

	list  []ValidatorFullInfo
	index map[[32]byte]int

	totalWeight *big.Int

	genesisValidator [32]byte
	genesisSigner    common.Address
	genesisSet       bool

	activities map[[32]byte]*ValidatorActivity
}

// NewRosterState returns an empty roster with total weight at its floor.
func NewRosterState() *RosterState {
	return &RosterState{
		index:       make(map[[32]byte]int),
		totalWeight: new(big.Int).Set(MinTotalWeight),
		activities:  make(map[[32]byte]*ValidatorActivity),
	}
}

// SetGenesis records the genesis validator/signer, read once on the
// chain's first successful tick.
func (r *RosterState) SetGenesis(validator [32]byte, signer common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.genesisValidator = validator
	r.genesisSigner = signer
	r.genesisSet = true
}

// Genesis returns the genesis validator/signer and whether they have
// been set yet.
func (r *RosterState) Genesis() (validator [32]byte, signer common.Address, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.genesisValidator, r.genesisSigner, r.genesisSet
}

// SetTotalWeight applies the on-chain total weight, floored at
// MinTotalWeight.
func (r *RosterState) SetTotalWeight(w *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.Cmp(MinTotalWeight) < 0 {
		r.totalWeight = new(big.Int).Set(MinTotalWeight)
		return
	}
	r.totalWeight = new(big.Int).Set(w)
}

// TotalWeight returns the current total weight.
func (r *RosterState) TotalWeight() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(big.Int).Set(r.totalWeight)
}

// rosterWeightSum sums the roster's own weights. Caller must hold r.mu.
func (r *RosterState) rosterWeightSum() *big.Int {
	sum := new(big.Int)
	for _, v := range r.list {
		sum.Add(sum, v.Weight)
	}
	return sum
}

// GenesisWeight returns max(0, total_weight - Σ roster weight): the
// weight implicitly attributed to the genesis validator.
func (r *RosterState) GenesisWeight() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw := new(big.Int).Sub(r.totalWeight, r.rosterWeightSum())
	if gw.Sign() < 0 {
		return new(big.Int)
	}
	return gw
}

// UpdateValidator inserts v if its Validator id is new, or replaces the
// existing entry with the same id, then re-sorts the roster by weight
// descending and rebuilds the index.
func (r *RosterState) UpdateValidator(v ValidatorFullInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[v.Validator]; ok {
		r.list[i] = v
	} else {
		r.list = append(r.list, v)
	}
	r.resort()
}

// RemoveValidator drops a validator from the roster (purged once a
// ValidatorPurged log has cleared confirmation depth).
func (r *RosterState) RemoveValidator(id [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return
	}
	r.list = append(r.list[:i], r.list[i+1:]...)
	r.resort()
}

// resort re-sorts r.list by weight descending and rebuilds r.index.
// Caller must hold r.mu.
func (r *RosterState) resort() {
	sort.SliceStable(r.list, func(i, j int) bool {
		return r.list[i].Weight.Cmp(r.list[j].Weight) > 0
	})
	r.index = make(map[[32]byte]int, len(r.list))
	for i, v := range r.list {
		r.index[v.Validator] = i
	}
}

// WeightOfValidator returns id's weight: the genesis weight if id is the
// genesis validator, its roster weight if a member, else zero.
func (r *RosterState) WeightOfValidator(id [32]byte) *big.Int {
	r.mu.RLock()
	genesisID := r.genesisValidator
	genesisSet := r.genesisSet
	i, ok := r.index[id]
	r.mu.RUnlock()

	if genesisSet && id == genesisID {
		return r.GenesisWeight()
	}
	if !ok {
		return new(big.Int)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(big.Int).Set(r.list[i].Weight)
}

// ValidatorByID returns the roster entry for id, or false if id is not a
// member (the genesis validator is never a roster member).
func (r *RosterState) ValidatorByID(id [32]byte) (ValidatorFullInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return ValidatorFullInfo{}, false
	}
	return r.list[i], true
}

// SignerOf returns the known signer address for a replier id, consulting
// the roster and falling back to the genesis signer.
func (r *RosterState) SignerOf(id [32]byte) (common.Address, bool) {
	if v, ok := r.ValidatorByID(id); ok {
		return v.Signer, true
	}
	validator, signer, ok := r.Genesis()
	if ok && id == validator {
		return signer, true
	}
	return common.Address{}, false
}

// Snapshot returns a copy of the current weight-ordered roster, safe for
// a caller on another task to read without further locking.
func (r *RosterState) Snapshot() []ValidatorFullInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ValidatorFullInfo, len(r.list))
	copy(out, r.list)
	return out
}

// TopValidators returns the smallest weight-ordered prefix of the roster
// whose cumulative weight (with the genesis validator inserted at its
// correct rank) reaches percent·total_weight.
func (r *RosterState) TopValidators(percent float64) []ValidatorFullInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target := percentOf(r.totalWeight, percent)
	genesisWeight := new(big.Int).Sub(r.totalWeight, r.rosterWeightSum())
	if genesisWeight.Sign() < 0 {
		genesisWeight = new(big.Int)
	}

	out := make([]ValidatorFullInfo, 0, len(r.list)+1)
	sum := new(big.Int)
	genesisInserted := !r.genesisSet || genesisWeight.Sign() == 0

	for _, v := range r.list {
		if !genesisInserted && v.Weight.Cmp(genesisWeight) < 0 {
			out = append(out, ValidatorFullInfo{Validator: r.genesisValidator, Signer: r.genesisSigner, Weight: genesisWeight})
			sum.Add(sum, genesisWeight)
			genesisInserted = true
			if sum.Cmp(target) >= 0 {
				break
			}
		}
		out = append(out, v)
		sum.Add(sum, v.Weight)
		if sum.Cmp(target) >= 0 {
			break
		}
	}
	if !genesisInserted && sum.Cmp(target) < 0 {
		out = append(out, ValidatorFullInfo{Validator: r.genesisValidator, Signer: r.genesisSigner, Weight: genesisWeight})
	}
	return out
}

// WeightThreshold returns the smallest weight w such that roster members
// (plus the genesis validator where applicable) with weight ≥ w
// cumulatively reach percent·total_weight.
func (r *RosterState) WeightThreshold(percent float64) *big.Int {
	top := r.TopValidators(percent)
	if len(top) == 0 {
		return new(big.Int)
	}
	min := top[0].Weight
	for _, v := range top {
		if v.Weight.Cmp(min) < 0 {
			min = v.Weight
		}
	}
	return new(big.Int).Set(min)
}

func percentOf(total *big.Int, percent float64) *big.Int {
	// total * round(percent*1e6) / 1e6, keeping the multiply-before-divide
	// discipline spec.md calls for on u256-scale values.
	scaled := big.NewInt(int64(percent*1_000_000 + 0.5))
	num := new(big.Int).Mul(total, scaled)
	return num.Div(num, big.NewInt(1_000_000))
}
