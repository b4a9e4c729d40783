package proposal

import (
	"context"
	"log"
	"math/big"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raicoin/validator-node/pkg/eip712"
	"github.com/raicoin/validator-node/pkg/validatorset"
)

// SubmissionState is one of the two phases a chain's proposal engine
// cycles through.
type SubmissionState int

const (
	IDLE SubmissionState = iota
	CollectSignatures
)

func (s SubmissionState) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case CollectSignatures:
		return "COLLECT_SIGNATURES"
	default:
		return "UNKNOWN"
	}
}

// maxCollectionRounds bounds how many COLLECT_SIGNATURES ticks are spent
// chasing a supermajority before giving up on the active proposal.
const maxCollectionRounds = 12

// cooldownSeconds is the minimum gap between two submission attempts.
const cooldownSeconds = 300

// percentSchedule is the widening probe-set schedule COLLECT_SIGNATURES
// walks through as rounds pass without a settled supermajority.
var percentSchedule = []float64{0.55, 0.75, 0.95, 0.99}

// SignatureReply is an UpgradeSign/UpdateTokenVolatile reply carrying an
// EIP-712 signature over the active proposal.
type SignatureReply struct {
	Replier   [32]byte
	Signer    common.Address
	Signature []byte
}

// Transport is the peer-facing and chain-facing side of the engine:
// sending signing requests to a target set, reading the contract's
// replay nonce, and submitting the executed call.
type Transport interface {
	SendUpgradeSign(targets []validatorset.ValidatorFullInfo, proposalId uint32, impl common.Address, nonce *big.Int)
	SendUpdateTokenVolatileSign(targets []validatorset.ValidatorFullInfo, proposalId uint32, token common.Address, volatile bool, nonce *big.Int)
	CoreNonce(ctx context.Context) (*big.Int, error)
	Upgrade(ctx context.Context, impl common.Address, nonce *big.Int, packedSignatures []byte) (common.Hash, error)
	UpdateTokenVolatile(ctx context.Context, token common.Address, volatile bool, nonce *big.Int, packedSignatures []byte) (common.Hash, error)
}

// Engine runs the collect-and-execute submission loop for one chain's
// core contract.
type Engine struct {
	mu        sync.Mutex
	roster    *validatorset.RosterState
	transport Transport
	domain    eip712.Domain
	contract  common.Address
	logger    *log.Logger

	table map[uint32]Proposal

	state      SubmissionState
	active     *Proposal
	round      int
	signatures map[common.Address]SignatureReply
	lastSubmit int64
}

// NewEngine constructs a proposal Engine for one chain's core contract.
func NewEngine(roster *validatorset.RosterState, transport Transport, domain eip712.Domain, contract common.Address) *Engine {
	return &Engine{
		roster:     roster,
		transport:  transport,
		domain:     domain,
		contract:   contract,
		logger:     log.New(os.Stdout, "[Proposal] ", log.LstdFlags),
		state:      IDLE,
		table:      make(map[uint32]Proposal),
		signatures: make(map[common.Address]SignatureReply),
	}
}

// State returns the current phase, for diagnostics and tests.
func (e *Engine) State() SubmissionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetProposals replaces the chain's proposal table, dropping any active
// submission context — the watcher observed a change to the file.
func (e *Engine) SetProposals(table map[uint32]Proposal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table = table
	e.active = nil
	e.signatures = make(map[common.Address]SignatureReply)
	e.round = 0
	e.state = IDLE
}

// Tick drives one state-machine step. executeEnabled/localSignerSet/
// nodeSynced are the chain-tracker-observed preconditions spec.md gates
// submission on; replies are any signature replies observed since the
// previous tick.
func (e *Engine) Tick(ctx context.Context, now int64, executeEnabled, localSignerSet, nodeSynced bool, replies []SignatureReply) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !executeEnabled || !localSignerSet || !nodeSynced {
		return
	}

	switch e.state {
	case IDLE:
		e.tickIdle(ctx, now)
	case CollectSignatures:
		e.tickCollectSignatures(ctx, now, replies)
	}
}

func (e *Engine) tickIdle(ctx context.Context, now int64) {
	if e.lastSubmit != 0 && e.lastSubmit+cooldownSeconds > now {
		return
	}

	nonce, err := e.transport.CoreNonce(ctx)
	if err != nil {
		e.logger.Printf("read core nonce: %v", err)
		return
	}

	proposal := e.validProposal(nonce, now)
	if proposal == nil {
		return
	}

	e.active = proposal
	e.signatures = make(map[common.Address]SignatureReply)
	e.round = 0
	e.state = CollectSignatures
	e.sendRound()
	e.logger.Printf("proposal %d adopted, nonce %s, collecting signatures", proposal.ID, nonce.String())
}

// validProposal implements get_valid_proposal: the newest (highest id)
// proposal targeting contract whose method's nonce matches and whose
// window contains now.
func (e *Engine) validProposal(nonce *big.Int, now int64) *Proposal {
	var best *Proposal
	for id, p := range e.table {
		if p.Contract != e.contract {
			continue
		}
		if p.Nonce() == nil || p.Nonce().Cmp(nonce) != 0 {
			continue
		}
		if !p.InWindow(now) {
			continue
		}
		if best == nil || id > best.ID {
			candidate := p
			best = &candidate
		}
	}
	return best
}

func (e *Engine) tickCollectSignatures(ctx context.Context, now int64, replies []SignatureReply) {
	if e.active == nil || now > e.active.EndTimestamp {
		e.reset()
		return
	}

	for _, rep := range replies {
		if _, ok := e.signatures[rep.Signer]; ok {
			continue
		}
		if !e.verifyReply(rep) {
			continue
		}
		e.signatures[rep.Signer] = rep
	}

	total := e.roster.TotalWeight()
	half := new(big.Int).Div(total, big.NewInt(2))
	accum := new(big.Int)
	for _, rep := range e.signatures {
		accum.Add(accum, e.roster.WeightOfValidator(rep.Replier))
	}

	if accum.Cmp(half) > 0 {
		e.submit(ctx, now)
		return
	}

	e.round++
	if e.round >= maxCollectionRounds {
		e.reset()
		return
	}
	e.sendRound()
}

// verifyReply checks a signature reply's EIP-712 signature against the
// replier's known roster signer and the active proposal's typed message.
func (e *Engine) verifyReply(rep SignatureReply) bool {
	signer, ok := e.roster.SignerOf(rep.Replier)
	if !ok || signer != rep.Signer {
		return false
	}

	var msg eip712.TypedMessage
	switch e.active.Method {
	case MethodUpgrade:
		msg = eip712.Upgrade{NewImplementation: e.active.Upgrade.Impl, Nonce: e.active.Upgrade.Nonce}
	case MethodUpdateTokenVolatile:
		msg = eip712.UpdateTokenVolatile{
			Token:    e.active.Volatile.Token,
			Volatile: e.active.Volatile.Volatile,
			Nonce:    e.active.Volatile.Nonce,
		}
	default:
		return false
	}
	return eip712.Verify(e.domain, msg, rep.Signature, rep.Signer)
}

// sendRound issues signing requests to the current round's probe set.
func (e *Engine) sendRound() {
	percent := percentSchedule[minInt(e.round, len(percentSchedule)-1)]
	targets := e.roster.TopValidators(percent)
	if len(targets) == 0 {
		return
	}
	switch e.active.Method {
	case MethodUpgrade:
		e.transport.SendUpgradeSign(targets, e.active.ID, e.active.Upgrade.Impl, e.active.Upgrade.Nonce)
	case MethodUpdateTokenVolatile:
		e.transport.SendUpdateTokenVolatileSign(targets, e.active.ID, e.active.Volatile.Token, e.active.Volatile.Volatile, e.active.Volatile.Nonce)
	}
}

func (e *Engine) submit(ctx context.Context, now int64) {
	signers := make([]common.Address, 0, len(e.signatures))
	for addr := range e.signatures {
		signers = append(signers, addr)
	}
	sort.Slice(signers, func(i, j int) bool {
		return strings.ToLower(signers[i].Hex()) < strings.ToLower(signers[j].Hex())
	})

	packed := make([]byte, 0, len(signers)*eip712.SignatureLength)
	for _, addr := range signers {
		packed = append(packed, e.signatures[addr].Signature...)
	}

	var err error
	switch e.active.Method {
	case MethodUpgrade:
		_, err = e.transport.Upgrade(ctx, e.active.Upgrade.Impl, e.active.Upgrade.Nonce, packed)
	case MethodUpdateTokenVolatile:
		_, err = e.transport.UpdateTokenVolatile(ctx, e.active.Volatile.Token, e.active.Volatile.Volatile, e.active.Volatile.Nonce, packed)
	}
	if err != nil {
		e.logger.Printf("proposal %d execution failed: %v", e.active.ID, err)
	}
	e.lastSubmit = now
	e.reset()
}

func (e *Engine) reset() {
	e.state = IDLE
	e.active = nil
	e.signatures = make(map[common.Address]SignatureReply)
	e.round = 0
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
