package supervisor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/raicoin/validator-node/pkg/attestation"
	"github.com/raicoin/validator-node/pkg/chainid"
	"github.com/raicoin/validator-node/pkg/codec"
	"github.com/raicoin/validator-node/pkg/crosschain"
	"github.com/raicoin/validator-node/pkg/dispatcher"
	"github.com/raicoin/validator-node/pkg/eip712"
	"github.com/raicoin/validator-node/pkg/evmchain"
	"github.com/raicoin/validator-node/pkg/peerlink"
	"github.com/raicoin/validator-node/pkg/proposal"
)

// proposalFileInterval is how often the governance proposal file is
// re-hashed and, on change, re-parsed.
const proposalFileInterval = 5 * time.Second

// nodeSyncInterval is how often the attached node is asked for its
// account and weight snapshot.
const nodeSyncInterval = 5 * time.Second

// ValidatorSupervisor owns every bridged chain's state and the peer/
// light-client protocol surfaces, and drives their periodic ticks.
type ValidatorSupervisor struct {
	chains map[chainid.ChainId]*ChainSupervisor

	node        *peerlink.NodeLink
	tokenSvc    *peerlink.TokenServiceClient
	correlation *dispatcher.CorrelationMap
	dispatchSrv *dispatcher.Server
	signers     map[chainid.EvmChainId]*eip712.Signer

	proposalPath    string
	proposalWatcher *proposal.Watcher

	mu           sync.Mutex
	localAccount [32]byte
	accountSet   bool
	epoch        uint32
	snapshot     peerlink.WeightSnapshot
	bound        map[chainid.ChainId]bool

	logger *log.Logger
}

// New builds a supervisor with no chains registered yet; call AddChain
// for each bridged chain before Run.
func New(node *peerlink.NodeLink, tokenSvc *peerlink.TokenServiceClient, correlation *dispatcher.CorrelationMap, signers map[chainid.EvmChainId]*eip712.Signer, proposalPath string) *ValidatorSupervisor {
	s := &ValidatorSupervisor{
		chains:          make(map[chainid.ChainId]*ChainSupervisor),
		node:            node,
		tokenSvc:        tokenSvc,
		correlation:     correlation,
		signers:         signers,
		proposalPath:    proposalPath,
		proposalWatcher: proposal.NewWatcher(proposalPath),
		bound:           make(map[chainid.ChainId]bool),
		logger:          log.New(os.Stdout, "[Supervisor] ", log.LstdFlags),
	}
	s.dispatchSrv = dispatcher.NewServer(s, correlation)
	return s
}

// DispatchServer exposes the light-client HTTP handler for the caller to
// mount.
func (s *ValidatorSupervisor) DispatchServer() *dispatcher.Server { return s.dispatchSrv }

// AddChain registers a bridged chain's supervisor.
func (s *ValidatorSupervisor) AddChain(cs *ChainSupervisor) {
	s.chains[cs.id] = cs
}

func (s *ValidatorSupervisor) currentEpoch(now int64) uint32 {
	return attestation.CurrentEpoch(now)
}

// --- peerlink.Router ---

func (s *ValidatorSupervisor) OnAccount(account [32]byte, accountHex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localAccount = account
	s.accountSet = true
}

func (s *ValidatorSupervisor) OnWeightSnapshot(snapshot peerlink.WeightSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

func (s *ValidatorSupervisor) OnCrossChain(chainId uint32, envelope crosschain.Envelope, sourceHex, destinationHex string) {
	cs, ok := s.chains[chainid.ChainId(chainId)]
	if !ok {
		return
	}
	if envelope.IsReq {
		s.answerSignRequest(cs, envelope, sourceHex)
		return
	}
	s.recordSignatureReply(cs, envelope, sourceHex)
}

func (s *ValidatorSupervisor) OnWeightQueryAck(chainId uint32, replier [32]byte, weight *big.Int) {
	cs, ok := s.chains[chainid.ChainId(chainId)]
	if !ok {
		return
	}
	cs.bufferWeightReply(attestation.WeightReply{Replier: replier, Weight: weight, Epoch: s.currentEpoch(nowUnix())})
}

func (s *ValidatorSupervisor) OnBindQueryAck(chainId uint32, bound bool, signer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[chainid.ChainId(chainId)] = bound
}

// answerSignRequest signs an inbound peer request with this node's key
// for the chain and relays the signed reply back to the requester.
func (s *ValidatorSupervisor) answerSignRequest(cs *ChainSupervisor, envelope crosschain.Envelope, sourceHex string) {
	domain := cs.domain
	var typed eip712.TypedMessage
	switch body := envelope.Body.(type) {
	case crosschain.WeightSignMessage:
		domain = cs.validatorDomain
		typed = eip712.SubmitValidator{Validator: body.Validator, Signer: common.BytesToAddress(body.Signer[:]), Weight: body.Weight, Epoch: body.Epoch}
	case crosschain.UpgradeSignMessage:
		typed = eip712.Upgrade{NewImplementation: bigToAddress(body.Impl), Nonce: body.Nonce}
	case crosschain.UpdateTokenVolatileMessage:
		typed = eip712.UpdateTokenVolatile{Token: bigToAddress(body.Token), Volatile: body.Volatile, Nonce: body.Nonce}
	default:
		return
	}

	signer, ok := s.signers[cs.evmID]
	if !ok {
		return
	}
	sig, err := signer.Sign(domain, typed)
	if err != nil {
		s.logger.Printf("sign peer request: %v", err)
		return
	}

	local, ok := s.LocalAccount()
	if !ok {
		return
	}
	localHex := "0x" + hexEncode(local[:])
	reply := withSignature(envelope, sig)
	payload, err := crosschain.Encode(reply)
	if err != nil {
		s.logger.Printf("encode peer reply: %v", err)
		return
	}
	if err := s.node.CrossChain(localHex, sourceHex, uint32(cs.id), payload); err != nil {
		s.logger.Printf("send peer reply: %v", err)
	}
}

func withSignature(envelope crosschain.Envelope, sig []byte) crosschain.Envelope {
	out := envelope
	out.IsReq = false
	switch body := envelope.Body.(type) {
	case crosschain.WeightSignMessage:
		body.Signature = sig
		out.Body = body
	case crosschain.UpgradeSignMessage:
		body.Signature = sig
		out.Body = body
	case crosschain.UpdateTokenVolatileMessage:
		body.Signature = sig
		out.Body = body
	}
	return out
}

func (s *ValidatorSupervisor) recordSignatureReply(cs *ChainSupervisor, envelope crosschain.Envelope, sourceHex string) {
	replier, err := hexToAccount(sourceHex)
	if err != nil {
		return
	}
	switch body := envelope.Body.(type) {
	case crosschain.WeightSignMessage:
		cs.bufferAttestationSignature(attestation.SignatureReply{
			Replier: replier, Signer: common.BytesToAddress(body.Signer[:]), Weight: body.Weight, Epoch: body.Epoch, Signature: body.Signature,
		})
	case crosschain.UpgradeSignMessage:
		signer, _ := cs.roster.SignerOf(replier)
		cs.bufferProposalSignature(proposal.SignatureReply{Replier: replier, Signer: signer, Signature: body.Signature})
	case crosschain.UpdateTokenVolatileMessage:
		signer, _ := cs.roster.SignerOf(replier)
		cs.bufferProposalSignature(proposal.SignatureReply{Replier: replier, Signer: signer, Signature: body.Signature})
	}
}

func hexToAccount(s string) ([32]byte, error) {
	var out [32]byte
	trimmed := s
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("supervisor: expected 32-byte account, got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func bigToAddress(v *big.Int) common.Address {
	return common.BytesToAddress(v.Bytes())
}

// LocalAccount returns the node's native account once node_account_ack
// has populated it.
func (s *ValidatorSupervisor) LocalAccount() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAccount, s.accountSet
}

func (s *ValidatorSupervisor) isBound(id chainid.ChainId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound[id]
}

// --- dispatcher.Handler ---

func (s *ValidatorSupervisor) chainOrErr(chainId uint32) (*ChainSupervisor, error) {
	cs, ok := s.chains[chainid.ChainId(chainId)]
	if !ok {
		return nil, fmt.Errorf("supervisor: unknown chain %d", chainId)
	}
	return cs, nil
}

func (s *ValidatorSupervisor) ChainInfo(chainId uint32) (map[string]any, error) {
	cs, err := s.chainOrErr(chainId)
	if err != nil {
		return nil, err
	}
	height, err := cs.chain.BlockNumber(context.Background())
	if err != nil {
		return nil, err
	}
	return map[string]any{"height": height}, nil
}

func (s *ValidatorSupervisor) ChainHeadHeight(chainId uint32) (uint64, error) {
	cs, err := s.chainOrErr(chainId)
	if err != nil {
		return 0, err
	}
	return cs.chain.BlockNumber(context.Background())
}

func (s *ValidatorSupervisor) tokenMeta(chainId uint32, token string) (evmchain.TokenMeta, error) {
	cs, err := s.chainOrErr(chainId)
	if err != nil {
		return evmchain.TokenMeta{}, err
	}
	return cs.chain.TokenInfo(context.Background(), common.HexToAddress(token))
}

func (s *ValidatorSupervisor) TokenSymbol(chainId uint32, token string) (string, error) {
	m, err := s.tokenMeta(chainId, token)
	return m.Symbol, err
}

func (s *ValidatorSupervisor) TokenName(chainId uint32, token string) (string, error) {
	m, err := s.tokenMeta(chainId, token)
	return m.Name, err
}

func (s *ValidatorSupervisor) TokenType(chainId uint32, token string) (string, error) {
	m, err := s.tokenMeta(chainId, token)
	return m.Type, err
}

func (s *ValidatorSupervisor) TokenDecimals(chainId uint32, token string) (uint8, error) {
	m, err := s.tokenMeta(chainId, token)
	return m.Decimals, err
}

func (s *ValidatorSupervisor) TokenWrapped(chainId uint32, token string) (bool, error) {
	m, err := s.tokenMeta(chainId, token)
	return m.Wrapped, err
}

func (s *ValidatorSupervisor) CreationParameters(chainId uint32, originalChainId uint32, originalContract string) (map[string]any, error) {
	m, err := s.tokenMeta(chainId, originalContract)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":     m.Name,
		"symbol":   m.Symbol,
		"decimals": m.Decimals,
		"type":     m.Type,
	}, nil
}

func (s *ValidatorSupervisor) TransactionTimestamp(chainId uint32, height uint64, txnHash string) (map[string]any, error) {
	cs, err := s.chainOrErr(chainId)
	if err != nil {
		return nil, err
	}
	head, err := cs.chain.BlockNumber(context.Background())
	if err != nil {
		return nil, err
	}
	status, ts := cs.chain.Timestamps().TransactionTimestamp(height, head, txnHash)
	switch status {
	case evmchain.TxConfirmed:
		return map[string]any{"status": "confirmed", "timestamp": ts}, nil
	case evmchain.TxFork:
		return map[string]any{"status": "fork"}, nil
	default:
		return map[string]any{"status": "synchronizing"}, nil
	}
}

func (s *ValidatorSupervisor) SendTransferSign(req dispatcher.Request, id dispatcher.CorrelationID) error {
	go s.signTransfer(req, id)
	return nil
}

func (s *ValidatorSupervisor) SendCreationSign(req dispatcher.Request, id dispatcher.CorrelationID) error {
	go s.signCreation(req, id)
	return nil
}

func (s *ValidatorSupervisor) signTransfer(req dispatcher.Request, id dispatcher.CorrelationID) {
	cs, err := s.chainOrErr(req.ChainId)
	if err != nil {
		s.correlation.Resolve(id, map[string]string{"error": err.Error()})
		return
	}
	signer, ok := s.signers[cs.evmID]
	if !ok {
		s.correlation.Resolve(id, map[string]string{"error": "no signer configured for chain"})
		return
	}

	sender, _, err := codec.DecodeAccount(req.Sender)
	if err != nil {
		s.correlation.Resolve(id, map[string]string{"error": err.Error()})
		return
	}
	txnHash := common.HexToHash(req.TxnHash)
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		s.correlation.Resolve(id, map[string]string{"error": "invalid amount"})
		return
	}

	var typed eip712.TypedMessage
	switch req.Operation {
	case dispatcher.OperationUnmap:
		if req.Token == "" {
			typed = eip712.UnmapETH{Sender: sender, Recipient: common.HexToAddress(req.Recipient), TxnHash: txnHash, TxnHeight: req.TxnHeight, Amount: amount}
		} else {
			typed = eip712.UnmapERC20{Token: common.HexToAddress(req.Token), Sender: sender, Recipient: common.HexToAddress(req.Recipient), TxnHash: txnHash, TxnHeight: req.TxnHeight, Share: amount}
		}
	case dispatcher.OperationWrap:
		originalContract, _, err := codec.DecodeAccount(req.OriginalContract)
		if err != nil {
			s.correlation.Resolve(id, map[string]string{"error": err.Error()})
			return
		}
		typed = eip712.WrapERC20Token{OriginalChainId: req.OriginalChainId, OriginalContract: originalContract, Sender: sender, Recipient: common.HexToAddress(req.Recipient), TxnHash: txnHash, TxnHeight: req.TxnHeight, Amount: amount}
	default:
		s.correlation.Resolve(id, map[string]string{"error": fmt.Sprintf("unsupported operation %q", req.Operation)})
		return
	}

	sig, err := signer.Sign(cs.domain, typed)
	if err != nil {
		s.correlation.Resolve(id, map[string]string{"error": err.Error()})
		return
	}
	s.correlation.Resolve(id, map[string]string{"signature": hexutil.Encode(sig)})
}

func (s *ValidatorSupervisor) signCreation(req dispatcher.Request, id dispatcher.CorrelationID) {
	cs, err := s.chainOrErr(req.ChainId)
	if err != nil {
		s.correlation.Resolve(id, map[string]string{"error": err.Error()})
		return
	}
	signer, ok := s.signers[cs.evmID]
	if !ok {
		s.correlation.Resolve(id, map[string]string{"error": "no signer configured for chain"})
		return
	}

	originalContract, _, err := codec.DecodeAccount(req.OriginalContract)
	if err != nil {
		s.correlation.Resolve(id, map[string]string{"error": err.Error()})
		return
	}
	typed := eip712.CreateWrappedERC20Token{
		Name:             req.Name,
		Symbol:           req.Symbol,
		OriginalChain:    req.OriginalChain,
		OriginalChainId:  req.OriginalChainId,
		OriginalContract: originalContract,
		Decimals:         req.Decimals,
	}
	sig, err := signer.Sign(cs.domain, typed)
	if err != nil {
		s.correlation.Resolve(id, map[string]string{"error": err.Error()})
		return
	}
	s.correlation.Resolve(id, map[string]string{"signature": hexutil.Encode(sig)})
}

// --- periodic tasks ---

// Run starts every background loop and blocks until ctx is cancelled.
func (s *ValidatorSupervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatchSrv.GCLoop(ctx)
	}()

	if s.tokenSvc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tokenSvc.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runNodeSync(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runProposalWatch(ctx)
	}()

	for _, cs := range s.chains {
		cs := cs
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runChainTick(ctx, cs)
		}()
	}

	wg.Wait()
}

func (s *ValidatorSupervisor) runNodeSync(ctx context.Context) {
	ticker := time.NewTicker(nodeSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.node.Sync(s.currentEpoch(nowUnix())); err != nil && err != peerlink.ErrNotAttached {
				s.logger.Printf("node sync: %v", err)
			}
		}
	}
}

func (s *ValidatorSupervisor) runProposalWatch(ctx context.Context) {
	ticker := time.NewTicker(proposalFileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, table, err := s.proposalWatcher.Tick()
			if err != nil {
				s.logger.Printf("proposal file: %v", err)
				continue
			}
			if !changed {
				continue
			}
			s.logger.Printf("proposal file changed")
			for id, cs := range s.chains {
				cs.Proposal.SetProposals(table[id])
			}
		}
	}
}

func (s *ValidatorSupervisor) runChainTick(ctx context.Context, cs *ChainSupervisor) {
	period := time.Duration(chainid.TickPeriod(cs.id)) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := nowUnix()
			_, nodeSynced := s.LocalAccount()
			pre := attestationPreconditions(cs, s, now, nodeSynced)
			cs.Tick(ctx, now, pre)
		}
	}
}

func nowUnix() int64 { return time.Now().Unix() }

// attestationPreconditions evaluates the cross-chain facts
// Service.Rewardable needs that only the supervisor can see: signer
// configuration, bind-query state, and node/roster liveness.
func attestationPreconditions(cs *ChainSupervisor, s *ValidatorSupervisor, now int64, nodeSynced bool) attestation.RewardablePreconditions {
	_, signerSet := s.signers[cs.evmID]
	return attestation.RewardablePreconditions{
		ChainSynced:                   true,
		LocalSignerSet:                signerSet,
		LocalSignerIsBound:            s.isBound(cs.id),
		NodeAttachedSynced:            s.node.Attached() && nodeSynced,
		SnapshotOrRosterWeightNonZero: cs.roster.TotalWeight().Sign() > 0,
	}
}
