package attestation

import (
	"log"
	"math/big"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raicoin/validator-node/pkg/eip712"
	"github.com/raicoin/validator-node/pkg/validatorset"
)

// SubmissionState is one of the three attestation phases a chain's
// local validator cycles through each reward window.
type SubmissionState int

const (
	IDLE SubmissionState = iota
	WeightQuery
	CollectSignatures
)

func (s SubmissionState) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case WeightQuery:
		return "WEIGHT_QUERY"
	case CollectSignatures:
		return "COLLECT_SIGNATURES"
	default:
		return "UNKNOWN"
	}
}

// maxCollectionRounds bounds how many COLLECT_SIGNATURES ticks are spent
// chasing a supermajority before giving up until the next reward window.
const maxCollectionRounds = 10

// weightQueryPercents is the widening schedule WEIGHT_QUERY walks through
// as rounds pass without a settled submission weight.
var weightQueryPercents = []float64{0.8, 0.9, 0.99}

// WeightReply is a weight_query_ack observed for the current submission
// epoch.
type WeightReply struct {
	Replier [32]byte
	Weight  *big.Int
	Epoch   uint32
}

// SignatureReply is a WeightSign reply carrying an EIP-712 signature over
// (validator, signer, weight, epoch).
type SignatureReply struct {
	Replier   [32]byte
	Signer    common.Address
	Weight    *big.Int
	Epoch     uint32
	Signature []byte
}

// Transport is the peer-facing side of the state machine: sending
// weight_query / WeightSign requests to a target set, and submitting the
// final certified submission on-chain.
type Transport interface {
	SendWeightQuery(targets []validatorset.ValidatorFullInfo, submissionEpoch uint32)
	SendWeightSign(targets []validatorset.ValidatorFullInfo, weight *big.Int, epoch uint32)
	SubmitValidator(validator [32]byte, signer common.Address, weight *big.Int, epoch uint32, rewardTo common.Address, packedSignatures []byte) error
}

// Service runs the attestation state machine for one chain's local
// validator account.
type Service struct {
	roster          *validatorset.RosterState
	transport       Transport
	domain          eip712.Domain
	localValidator  [32]byte
	isGenesisLocal  bool
	logger          *log.Logger

	state           SubmissionState
	submissionEpoch uint32
	round           int

	weights    map[[32]byte]*big.Int
	signatures map[common.Address]SignatureReply

	submissionWeight *big.Int
	lastSubmit       int64
}

// NewService constructs an attestation Service for one chain.
func NewService(roster *validatorset.RosterState, transport Transport, domain eip712.Domain, localValidator [32]byte, isGenesisLocal bool) *Service {
	return &Service{
		roster:         roster,
		transport:      transport,
		domain:         domain,
		localValidator: localValidator,
		isGenesisLocal: isGenesisLocal,
		logger:         log.New(os.Stdout, "[Attestation] ", log.LstdFlags),
		state:          IDLE,
		weights:        make(map[[32]byte]*big.Int),
		signatures:     make(map[common.Address]SignatureReply),
	}
}

// State returns the current phase, for diagnostics and tests.
func (s *Service) State() SubmissionState { return s.state }

// SetLocal refreshes the local validator identity and genesis status.
// Both are learned asynchronously after construction (the node account
// via node_account_ack, genesis via the chain's first successful
// roster sync), so the caller re-supplies them every tick rather than
// binding them once at NewService time.
func (s *Service) SetLocal(localValidator [32]byte, isGenesisLocal bool) {
	s.localValidator = localValidator
	s.isGenesisLocal = isGenesisLocal
}

// RewardablePreconditions bundles the non-arithmetic predicates spec.md
// requires in addition to the reward-window check: the caller (the
// chain tracker) is in the best position to evaluate node-sync and
// roster-membership facts, so those are passed in rather than re-derived
// here.
type RewardablePreconditions struct {
	ChainSynced        bool
	LocalSignerSet     bool
	LocalSignerIsBound bool
	NodeAttachedSynced bool
	SnapshotOrRosterWeightNonZero bool
}

// Rewardable evaluates the full rewardable() predicate from spec.md §4.5.
func (s *Service) Rewardable(now int64, pre RewardablePreconditions) bool {
	if !pre.ChainSynced || s.state != IDLE {
		return false
	}
	if now < s.lastSubmit+SubmitCooldown {
		return false
	}
	if !pre.LocalSignerSet || !pre.LocalSignerIsBound {
		return false
	}
	if !pre.NodeAttachedSynced {
		return false
	}
	if s.isGenesisLocal {
		return false
	}
	if v, ok := s.roster.ValidatorByID(s.localValidator); ok {
		if v.Epoch >= CurrentEpoch(now) {
			return false
		}
		if !InRewardTimeRange(int64(v.LastSubmit), now) {
			return false
		}
	}
	return pre.SnapshotOrRosterWeightNonZero
}

// Tick drives one state-machine step. The caller supplies now, the
// rewardable preconditions (evaluated for IDLE transitions only), and
// any replies observed since the previous tick.
func (s *Service) Tick(now int64, pre RewardablePreconditions, weightReplies []WeightReply, sigReplies []SignatureReply) {
	switch s.state {
	case IDLE:
		s.tickIdle(now, pre)
	case WeightQuery:
		s.tickWeightQuery(now, weightReplies)
	case CollectSignatures:
		s.tickCollectSignatures(now, sigReplies)
	}
}

func (s *Service) tickIdle(now int64, pre RewardablePreconditions) {
	if !s.Rewardable(now, pre) {
		return
	}
	s.submissionEpoch = CurrentEpoch(now)
	s.weights = make(map[[32]byte]*big.Int)
	s.round = 0
	s.state = WeightQuery
	targets := s.roster.TopValidators(weightQueryPercents[0])
	s.transport.SendWeightQuery(targets, s.submissionEpoch)
	s.logger.Printf("submission epoch %d: querying weight from %d peers", s.submissionEpoch, len(targets))
}

func (s *Service) tickWeightQuery(now int64, replies []WeightReply) {
	if CurrentEpoch(now) != s.submissionEpoch {
		s.reset()
		return
	}
	for _, rep := range replies {
		if rep.Epoch != s.submissionEpoch {
			continue
		}
		s.weights[rep.Replier] = rep.Weight
	}

	weight, ok := s.computeSubmissionWeight()
	if !ok {
		s.round++
		percent := weightQueryPercents[minInt(s.round, len(weightQueryPercents)-1)]
		targets := s.roster.TopValidators(percent)
		s.transport.SendWeightQuery(targets, s.submissionEpoch)
		return
	}

	s.submissionWeight = weight
	s.signatures = make(map[common.Address]SignatureReply)
	s.round = 0
	s.state = CollectSignatures
	percent := weightQueryPercents[minInt(s.round, len(weightQueryPercents)-1)]
	targets := s.roster.TopValidators(percent)
	s.transport.SendWeightSign(targets, weight, s.submissionEpoch)
	s.logger.Printf("submission weight settled at %s, collecting signatures", weight.String())
}

// computeSubmissionWeight implements calc_submission_weight: among
// replies from validators whose own roster weight clears the 0.99
// threshold, walk the replies sorted by reported weight descending,
// accumulating the replier's own weight until it reaches ⅔ of total
// weight, and return the weight value at that point.
func (s *Service) computeSubmissionWeight() (*big.Int, bool) {
	threshold := s.roster.WeightThreshold(0.99)
	total := s.roster.TotalWeight()
	target := new(big.Int).Mul(total, big.NewInt(2))
	target.Div(target, big.NewInt(3))

	type candidate struct {
		replierWeight *big.Int
		reportedWeight *big.Int
	}
	var candidates []candidate
	for replier, reported := range s.weights {
		replierWeight := s.roster.WeightOfValidator(replier)
		if replierWeight.Cmp(threshold) < 0 {
			continue
		}
		candidates = append(candidates, candidate{replierWeight: replierWeight, reportedWeight: reported})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].reportedWeight.Cmp(candidates[j].reportedWeight) > 0
	})

	accum := new(big.Int)
	for _, c := range candidates {
		accum.Add(accum, c.replierWeight)
		if accum.Cmp(target) >= 0 {
			return new(big.Int).Set(c.reportedWeight), true
		}
	}
	return nil, false
}

func (s *Service) tickCollectSignatures(now int64, replies []SignatureReply) {
	if CurrentEpoch(now) != s.submissionEpoch {
		s.reset()
		return
	}

	threshold := s.roster.WeightThreshold(0.99)
	for _, rep := range replies {
		if rep.Weight == nil || rep.Epoch != s.submissionEpoch {
			continue
		}
		if rep.Weight.Cmp(s.submissionWeight) != 0 {
			continue
		}
		replierWeight := s.roster.WeightOfValidator(rep.Replier)
		if replierWeight.Cmp(threshold) < 0 {
			continue
		}
		signer, ok := s.roster.SignerOf(rep.Replier)
		if !ok || signer != rep.Signer {
			continue
		}
		msg := eip712.SubmitValidator{Validator: s.localValidator, Signer: rep.Signer, Weight: s.submissionWeight, Epoch: s.submissionEpoch}
		if !eip712.Verify(s.domain, msg, rep.Signature, rep.Signer) {
			continue
		}
		s.signatures[rep.Signer] = rep
	}

	total := s.roster.TotalWeight()
	half := new(big.Int).Div(total, big.NewInt(2))
	accum := new(big.Int)
	for _, rep := range s.signatures {
		accum.Add(accum, s.roster.WeightOfValidator(rep.Replier))
	}

	if accum.Cmp(half) > 0 {
		s.submit(now)
		return
	}

	s.round++
	if s.round >= maxCollectionRounds {
		s.reset()
		return
	}
}

func (s *Service) submit(now int64) {
	signers := make([]common.Address, 0, len(s.signatures))
	for addr := range s.signatures {
		signers = append(signers, addr)
	}
	sort.Slice(signers, func(i, j int) bool {
		return lessAddress(signers[i], signers[j])
	})

	packed := make([]byte, 0, len(signers)*65)
	for _, addr := range signers {
		packed = append(packed, s.signatures[addr].Signature...)
	}

	rewardTo := signers[0]
	if v, ok := s.roster.ValidatorByID(s.localValidator); ok {
		rewardTo = v.Signer
	}

	if err := s.transport.SubmitValidator(s.localValidator, rewardTo, s.submissionWeight, s.submissionEpoch, rewardTo, packed); err != nil {
		s.logger.Printf("submitValidator failed: %v", err)
	}
	s.lastSubmit = now
	s.reset()
}

func (s *Service) reset() {
	s.state = IDLE
	s.weights = make(map[[32]byte]*big.Int)
	s.signatures = make(map[common.Address]SignatureReply)
	s.round = 0
}

func lessAddress(a, b common.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
