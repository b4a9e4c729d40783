// Package supervisor wires the per-chain state machines, the EVM
// adapters, and the peer transport together into one running validator
// node: each ChainSupervisor owns a chain's roster/attestation/proposal
// trio, and ValidatorSupervisor drives the periodic tasks and peer/
// light-client protocols that feed them.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raicoin/validator-node/pkg/attestation"
	"github.com/raicoin/validator-node/pkg/chainid"
	"github.com/raicoin/validator-node/pkg/codec"
	"github.com/raicoin/validator-node/pkg/crosschain"
	"github.com/raicoin/validator-node/pkg/eip712"
	"github.com/raicoin/validator-node/pkg/evmchain"
	"github.com/raicoin/validator-node/pkg/peerlink"
	"github.com/raicoin/validator-node/pkg/proposal"
	"github.com/raicoin/validator-node/pkg/validatorset"
)

// pendingActivity tracks a validator-roster log entry observed but not
// yet past the chain's confirmation depth.
type pendingActivity struct {
	logHeight uint64
	purged    bool
}

// ChainSupervisor owns one bridged chain's roster, attestation service,
// and proposal engine, and is the attestation/proposal Transport that
// routes their signing traffic through the shared node link.
type ChainSupervisor struct {
	id     chainid.ChainId
	evmID  chainid.EvmChainId
	chain  *evmchain.Chain
	roster *validatorset.RosterState

	// domain verifies core-contract messages (transfers, token creation,
	// governance); validatorDomain verifies SubmitValidator/WeightSign,
	// which the validator contract itself checks on-chain. §4.2 assigns
	// each typed struct to one contract or the other.
	domain          eip712.Domain
	validatorDomain eip712.Domain
	signer          *eip712.Signer

	Attestation *attestation.Service
	Proposal    *proposal.Engine

	node *peerlink.NodeLink

	executeEnabled bool
	localValidator func() ([32]byte, bool)

	mu               sync.Mutex
	lastSyncedHeight uint64
	pending          map[[32]byte]pendingActivity
	weightReplies    []attestation.WeightReply
	sigReplies       []attestation.SignatureReply
	proposalReplies  []proposal.SignatureReply

	logger *log.Logger
}

// NewChainSupervisor builds the supervisor for one chain. localValidator
// is a late-bound callback into the ValidatorSupervisor's node-state,
// since the local account is learned once per node, not per chain.
func NewChainSupervisor(id chainid.ChainId, chain *evmchain.Chain, roster *validatorset.RosterState, validatorContract, coreContract common.Address, signer *eip712.Signer, executeEnabled bool, node *peerlink.NodeLink, localValidator func() ([32]byte, bool)) (*ChainSupervisor, error) {
	evmID, ok := chainid.EvmChainIdOf(id)
	if !ok {
		return nil, fmt.Errorf("supervisor: %s is not an EVM chain", id)
	}
	domain := eip712.Domain{ChainId: uint64(evmID), VerifyingContract: coreContract}
	validatorDomain := eip712.Domain{ChainId: uint64(evmID), VerifyingContract: validatorContract}

	s := &ChainSupervisor{
		id:              id,
		evmID:           evmID,
		chain:           chain,
		roster:          roster,
		domain:          domain,
		validatorDomain: validatorDomain,
		signer:          signer,
		node:            node,
		executeEnabled:  executeEnabled,
		localValidator:  localValidator,
		pending:         make(map[[32]byte]pendingActivity),
		logger:          log.New(os.Stdout, fmt.Sprintf("[Chain %s] ", id), log.LstdFlags),
	}

	var localID [32]byte
	isGenesis := false
	if v, ok := localValidator(); ok {
		localID = v
		if gv, _, gok := roster.Genesis(); gok {
			isGenesis = gv == v
		}
	}
	s.Attestation = attestation.NewService(roster, s, validatorDomain, localID, isGenesis)
	s.Proposal = proposal.NewEngine(roster, s, domain, coreContract)
	return s, nil
}

// --- attestation.Transport ---

func (s *ChainSupervisor) SendWeightQuery(targets []validatorset.ValidatorFullInfo, submissionEpoch uint32) {
	local, ok := s.localValidator()
	if !ok {
		return
	}
	localAccount, err := codec.EncodeAccount(local)
	if err != nil {
		s.logger.Printf("encode local account: %v", err)
		return
	}
	for _, t := range targets {
		account, err := codec.EncodeAccount(t.Validator)
		if err != nil {
			continue
		}
		if err := s.node.WeightQuery(uint32(s.id), localAccount, account); err != nil {
			s.logger.Printf("weight_query to %s: %v", account, err)
		}
	}
}

func (s *ChainSupervisor) SendWeightSign(targets []validatorset.ValidatorFullInfo, weight *big.Int, epoch uint32) {
	local, ok := s.localValidator()
	if !ok {
		return
	}
	body := crosschain.WeightSignMessage{
		Validator: local,
		Signer:    common.BytesToHash(s.signer.Address().Bytes()),
		Weight:    weight,
		Epoch:     epoch,
	}
	s.broadcastCrossChain(local, targets, crosschain.Envelope{Type: crosschain.WeightSign, IsReq: true, Body: body})
}

func (s *ChainSupervisor) SubmitValidator(validator [32]byte, signer common.Address, weight *big.Int, epoch uint32, rewardTo common.Address, packedSignatures []byte) error {
	if !s.executeEnabled {
		s.logger.Printf("submission ready for epoch %d but execution is disabled", epoch)
		return nil
	}
	_, err := s.chain.SubmitValidator(context.Background(), new(big.Int).SetUint64(uint64(s.evmID)), validator, signer, weight, epoch, rewardTo, packedSignatures)
	return err
}

// --- proposal.Transport ---

func (s *ChainSupervisor) SendUpgradeSign(targets []validatorset.ValidatorFullInfo, proposalId uint32, impl common.Address, nonce *big.Int) {
	local, ok := s.localValidator()
	if !ok {
		return
	}
	body := crosschain.UpgradeSignMessage{
		ProposalId: proposalId,
		Impl:       addressToBig(impl),
		Nonce:      nonce,
	}
	s.broadcastCrossChain(local, targets, crosschain.Envelope{Type: crosschain.UpgradeSign, IsReq: true, Body: body})
}

func (s *ChainSupervisor) SendUpdateTokenVolatileSign(targets []validatorset.ValidatorFullInfo, proposalId uint32, token common.Address, volatile bool, nonce *big.Int) {
	local, ok := s.localValidator()
	if !ok {
		return
	}
	body := crosschain.UpdateTokenVolatileMessage{
		ProposalId: proposalId,
		Token:      addressToBig(token),
		Volatile:   volatile,
		Nonce:      nonce,
	}
	s.broadcastCrossChain(local, targets, crosschain.Envelope{Type: crosschain.UpdateTokenVolatile, IsReq: true, Body: body})
}

func (s *ChainSupervisor) CoreNonce(ctx context.Context) (*big.Int, error) {
	return s.chain.CoreNonce(ctx)
}

func (s *ChainSupervisor) Upgrade(ctx context.Context, impl common.Address, nonce *big.Int, packedSignatures []byte) (common.Hash, error) {
	if !s.executeEnabled {
		return common.Hash{}, fmt.Errorf("supervisor: execution disabled for chain %s", s.id)
	}
	return s.chain.Upgrade(ctx, new(big.Int).SetUint64(uint64(s.evmID)), impl, nonce, packedSignatures)
}

func (s *ChainSupervisor) UpdateTokenVolatile(ctx context.Context, token common.Address, volatile bool, nonce *big.Int, packedSignatures []byte) (common.Hash, error) {
	if !s.executeEnabled {
		return common.Hash{}, fmt.Errorf("supervisor: execution disabled for chain %s", s.id)
	}
	return s.chain.UpdateTokenVolatile(ctx, new(big.Int).SetUint64(uint64(s.evmID)), token, volatile, nonce, packedSignatures)
}

func (s *ChainSupervisor) broadcastCrossChain(local [32]byte, targets []validatorset.ValidatorFullInfo, envelope crosschain.Envelope) {
	sourceHex := "0x" + hexEncode(local[:])
	payload, err := crosschain.Encode(envelope)
	if err != nil {
		s.logger.Printf("encode cross-chain envelope: %v", err)
		return
	}
	for _, t := range targets {
		destHex := "0x" + hexEncode(t.Validator[:])
		if err := s.node.CrossChain(sourceHex, destHex, uint32(s.id), payload); err != nil {
			s.logger.Printf("cross_chain to %s: %v", destHex, err)
		}
	}
}

func addressToBig(a common.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}

// --- inbound reply buffering, drained by the owning tick ---

func (s *ChainSupervisor) bufferWeightReply(r attestation.WeightReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weightReplies = append(s.weightReplies, r)
}

func (s *ChainSupervisor) bufferAttestationSignature(r attestation.SignatureReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigReplies = append(s.sigReplies, r)
}

func (s *ChainSupervisor) bufferProposalSignature(r proposal.SignatureReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposalReplies = append(s.proposalReplies, r)
}

func (s *ChainSupervisor) drainReplies() ([]attestation.WeightReply, []attestation.SignatureReply, []proposal.SignatureReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, sig, prop := s.weightReplies, s.sigReplies, s.proposalReplies
	s.weightReplies, s.sigReplies, s.proposalReplies = nil, nil, nil
	return w, sig, prop
}

// Tick advances the roster sync, attestation, and proposal state for one
// period. pre is evaluated by the caller, which alone knows node/roster
// membership facts shared across chains.
func (s *ChainSupervisor) Tick(ctx context.Context, now int64, pre attestation.RewardablePreconditions) {
	if err := s.syncRoster(ctx); err != nil {
		s.logger.Printf("roster sync: %v", err)
	}

	if v, ok := s.localValidator(); ok {
		isGenesis := false
		if gv, _, gok := s.roster.Genesis(); gok {
			isGenesis = gv == v
		}
		s.Attestation.SetLocal(v, isGenesis)
	}

	weightReplies, sigReplies, proposalReplies := s.drainReplies()
	s.Attestation.Tick(now, pre, weightReplies, sigReplies)

	nonceReady := pre.ChainSynced
	s.Proposal.Tick(ctx, now, s.executeEnabled, pre.LocalSignerSet, nonceReady, proposalReplies)
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

// syncRoster refreshes total weight every tick and folds in validator
// log changes once they clear the chain's confirmation depth.
func (s *ChainSupervisor) syncRoster(ctx context.Context) error {
	if _, _, ok := s.roster.Genesis(); !ok {
		if validator, err := s.chain.GetGenesisValidator(ctx); err == nil {
			if signer, err := s.chain.GetGenesisSigner(ctx); err == nil {
				s.roster.SetGenesis(validator, signer)
			}
		}
	}

	total, err := s.chain.GetTotalWeight(ctx)
	if err != nil {
		return fmt.Errorf("get total weight: %w", err)
	}
	s.roster.SetTotalWeight(total)

	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}

	from := s.lastSyncedHeight + 1
	if s.lastSyncedHeight == 0 {
		from = head
	}
	if from <= head {
		logs, err := s.chain.GetValidatorLogs(ctx, from, head)
		if err != nil {
			return fmt.Errorf("validator logs: %w", err)
		}
		for _, l := range logs {
			s.pending[l.Validator] = pendingActivity{logHeight: l.Height, purged: l.Purged}
		}
	}
	s.lastSyncedHeight = head

	confirmations := chainid.Confirmations(s.id)
	var confirmedBoundary uint64
	if head > confirmations {
		confirmedBoundary = head - confirmations
	}
	for id, act := range s.pending {
		if act.logHeight > confirmedBoundary {
			continue
		}
		delete(s.pending, id)
		if act.purged {
			s.roster.RemoveValidator(id)
			continue
		}
		info, err := s.chain.GetValidatorInfo(ctx, id)
		if err != nil {
			s.logger.Printf("refresh validator %x: %v", id, err)
			continue
		}
		s.roster.UpdateValidator(validatorset.ValidatorFullInfo{
			Validator:  info.Validator,
			Signer:     info.Signer,
			Weight:     info.Weight,
			GasPrice:   info.GasPrice,
			LastSubmit: info.LastSubmit,
			Epoch:      info.Epoch,
		})
	}
	return nil
}
