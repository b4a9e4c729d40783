package evmchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/raicoin/validator-node/pkg/contracts"
)

// validatorPageSize and validatorPageSleep bound getValidators paging:
// 1000 entries per page with a 100ms pause between pages, so a large
// roster read does not monopolize an endpoint.
const (
	validatorPageSize  = 1000
	validatorPageSleep = 100 * time.Millisecond
)

// Chain wires an endpoint Pool to the validator/core contract ABIs and
// the metadata/timestamp caches for one EVM chain.
type Chain struct {
	pool      *Pool
	abis      *contracts.Set
	validator common.Address
	core      common.Address

	meta       *MetadataCache
	timestamps *TimestampCache

	signer *ecdsa.PrivateKey
	from   common.Address
}

// NewChain constructs a Chain adapter.
func NewChain(pool *Pool, abis *contracts.Set, validatorContract, coreContract common.Address, seed map[string]TokenMeta, signerKeyHex string) (*Chain, error) {
	c := &Chain{
		pool:       pool,
		abis:       abis,
		validator:  validatorContract,
		core:       coreContract,
		meta:       NewMetadataCache(seed),
		timestamps: NewTimestampCache(),
	}
	if signerKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("evmchain: parse signer key: %w", err)
		}
		c.signer = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// Signer returns the chain's local signer address, or the zero address
// if no signer key was configured.
func (c *Chain) Signer() common.Address { return c.from }

// BlockNumber returns the chain head.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.pool.Client(ctx, func(cl *ethclient.Client) error {
		v, err := cl.BlockNumber(ctx)
		n = v
		return err
	})
	return n, err
}

// Fee returns the chain's current suggested gas price.
func (c *Chain) Fee(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	err := c.pool.Client(ctx, func(cl *ethclient.Client) error {
		v, err := cl.SuggestGasPrice(ctx)
		fee = v
		return err
	})
	return fee, err
}

// Block returns block header info at height ("latest" if height == nil):
// timestamp and the contained transaction hashes.
type BlockInfo struct {
	Number    uint64
	Timestamp uint64
	TxHashes  []string
}

func (c *Chain) Block(ctx context.Context, height *big.Int) (BlockInfo, error) {
	var info BlockInfo
	err := c.pool.Client(ctx, func(cl *ethclient.Client) error {
		b, err := cl.BlockByNumber(ctx, height)
		if err != nil {
			return err
		}
		info.Number = b.NumberU64()
		info.Timestamp = b.Time()
		for _, tx := range b.Transactions() {
			info.TxHashes = append(info.TxHashes, tx.Hash().Hex())
		}
		return nil
	})
	return info, err
}

// callView packs methodName against abiSet and reads the result from
// `to`, unpacking through the same ABI — the teacher's generic
// abi.JSON+Pack/Unpack CallContract pattern, not generated bindings.
func (c *Chain) callView(ctx context.Context, to common.Address, abiSet *contracts.Set, useCore bool, methodName string, out interface{}, params ...interface{}) error {
	var packed []byte
	var err error
	if useCore {
		packed, err = abiSet.Core.Pack(methodName, params...)
	} else {
		packed, err = abiSet.Validator.Pack(methodName, params...)
	}
	if err != nil {
		return fmt.Errorf("evmchain: pack %s: %w", methodName, err)
	}

	var result []byte
	callErr := c.pool.Client(ctx, func(cl *ethclient.Client) error {
		r, err := cl.CallContract(ctx, ethereum.CallMsg{To: &to, Data: packed}, nil)
		result = r
		return err
	})
	if callErr != nil {
		return fmt.Errorf("evmchain: call %s: %w", methodName, callErr)
	}

	if useCore {
		return abiSet.Core.UnpackIntoInterface(out, methodName, result)
	}
	return abiSet.Validator.UnpackIntoInterface(out, methodName, result)
}

// GetTotalWeight reads the validator contract's total attested weight.
func (c *Chain) GetTotalWeight(ctx context.Context) (*big.Int, error) {
	out := new(big.Int)
	err := c.callView(ctx, c.validator, c.abis, false, "getTotalWeight", out)
	return out, err
}

// GetValidatorCount reads the validator contract's roster size.
func (c *Chain) GetValidatorCount(ctx context.Context) (*big.Int, error) {
	out := new(big.Int)
	err := c.callView(ctx, c.validator, c.abis, false, "getValidatorCount", out)
	return out, err
}

// ValidatorRecord mirrors the validator contract's on-chain tuple.
type ValidatorRecord struct {
	Validator  [32]byte
	Signer     common.Address
	Weight     *big.Int
	GasPrice   *big.Int
	LastSubmit uint32
	Epoch      uint32
}

// GetValidators pages [begin,end) in windows of validatorPageSize,
// sleeping validatorPageSleep between pages.
func (c *Chain) GetValidators(ctx context.Context, begin, end *big.Int) ([]ValidatorRecord, error) {
	var out []ValidatorRecord
	page := new(big.Int).SetUint64(validatorPageSize)

	cursor := new(big.Int).Set(begin)
	for cursor.Cmp(end) < 0 {
		pageEnd := new(big.Int).Add(cursor, page)
		if pageEnd.Cmp(end) > 0 {
			pageEnd = end
		}

		var records []ValidatorRecord
		if err := c.callView(ctx, c.validator, c.abis, false, "getValidators", &records, cursor, pageEnd); err != nil {
			return nil, err
		}
		out = append(out, records...)

		cursor = pageEnd
		if cursor.Cmp(end) < 0 {
			time.Sleep(validatorPageSleep)
		}
	}
	return out, nil
}

// GetValidatorInfo reads a single validator's current record.
func (c *Chain) GetValidatorInfo(ctx context.Context, validator [32]byte) (ValidatorRecord, error) {
	var out ValidatorRecord
	err := c.callView(ctx, c.validator, c.abis, false, "getValidatorInfo", &out, validator)
	return out, err
}

// GetWeight reads a signer's current attested weight.
func (c *Chain) GetWeight(ctx context.Context, signer common.Address) (*big.Int, error) {
	out := new(big.Int)
	err := c.callView(ctx, c.validator, c.abis, false, "getWeight", out, signer)
	return out, err
}

// GetGenesisValidator and GetGenesisSigner read the validator contract's
// immutable genesis entries, fetched once by the caller on first sync.
func (c *Chain) GetGenesisValidator(ctx context.Context) ([32]byte, error) {
	var out [32]byte
	err := c.callView(ctx, c.validator, c.abis, false, "getGenesisValidator", &out)
	return out, err
}

func (c *Chain) GetGenesisSigner(ctx context.Context) (common.Address, error) {
	var out common.Address
	err := c.callView(ctx, c.validator, c.abis, false, "getGenesisSigner", &out)
	return out, err
}

// ValidatorNonce and CoreNonce read each contract's replay-protection
// nonce, used by the proposal engine to match a proposal's target nonce.
func (c *Chain) ValidatorNonce(ctx context.Context) (*big.Int, error) {
	out := new(big.Int)
	err := c.callView(ctx, c.validator, c.abis, false, "getNonce", out)
	return out, err
}

func (c *Chain) CoreNonce(ctx context.Context) (*big.Int, error) {
	out := new(big.Int)
	err := c.callView(ctx, c.core, c.abis, true, "getNonce", out)
	return out, err
}

// ValidatorLog is a decoded ValidatorSubmitted/ValidatorPurged event.
type ValidatorLog struct {
	Purged    bool
	Validator [32]byte
	Height    uint64
}

// GetValidatorLogs filters the validator contract's logs in [from,to]
// for ValidatorSubmitted/ValidatorPurged topics.
func (c *Chain) GetValidatorLogs(ctx context.Context, from, to uint64) ([]ValidatorLog, error) {
	submitted, err := c.abis.ValidatorSubmittedTopic()
	if err != nil {
		return nil, err
	}
	purged, err := c.abis.ValidatorPurgedTopic()
	if err != nil {
		return nil, err
	}

	var logs []types.Log
	err = c.pool.Client(ctx, func(cl *ethclient.Client) error {
		l, err := cl.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{c.validator},
			Topics:    [][]common.Hash{{submitted, purged}},
		})
		logs = l
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("evmchain: filter validator logs: %w", err)
	}

	out := make([]ValidatorLog, 0, len(logs))
	for _, l := range logs {
		entry := ValidatorLog{Height: l.BlockNumber}
		if len(l.Topics) > 0 && l.Topics[0] == purged {
			entry.Purged = true
		}
		if len(l.Topics) > 1 {
			copy(entry.Validator[:], l.Topics[1].Bytes())
		}
		out = append(out, entry)
	}
	return out, nil
}

// TokenInfo introspects an ERC-20/721 contract through the ERC-20 ABI's
// name/symbol/decimals views, consulting and populating the metadata
// cache. A contract without decimals is recorded as ERC-721.
func (c *Chain) TokenInfo(ctx context.Context, token common.Address) (TokenMeta, error) {
	key := token.Hex()
	if m, ok := c.meta.Get(key); ok {
		return m, nil
	}

	var meta TokenMeta
	var name, symbol string
	erc20 := &contracts.Set{Validator: c.abis.ERC20}
	if err := c.callView(ctx, token, erc20, false, "name", &name); err == nil {
		meta.Name = name
	}
	if err := c.callView(ctx, token, erc20, false, "symbol", &symbol); err == nil {
		meta.Symbol = symbol
	}

	var decimals uint8
	if err := c.callView(ctx, token, erc20, false, "decimals", &decimals); err == nil {
		meta.Type = "erc20"
		meta.Decimals = decimals
	} else {
		meta.Type = "erc721"
	}

	c.meta.Set(key, meta)
	return meta, nil
}

// estimateAndDouble estimates gas for msg and doubles it, the write-path
// safety margin spec.md calls for.
func (c *Chain) estimateAndDouble(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.pool.Client(ctx, func(cl *ethclient.Client) error {
		g, err := cl.EstimateGas(ctx, msg)
		gas = g
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("evmchain: estimate gas: %w", err)
	}
	return gas * 2, nil
}

func (c *Chain) sendSigned(ctx context.Context, to common.Address, data []byte, chainID *big.Int) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, fmt.Errorf("evmchain: no signer configured for write operation")
	}

	gas, err := c.estimateAndDouble(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, err
	}

	var nonce uint64
	var gasPrice *big.Int
	err = c.pool.Client(ctx, func(cl *ethclient.Client) error {
		n, err := cl.PendingNonceAt(ctx, c.from)
		if err != nil {
			return err
		}
		gp, err := cl.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		nonce, gasPrice = n, gp
		return nil
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmchain: prepare transaction: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), c.signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmchain: sign transaction: %w", err)
	}

	err = c.pool.Client(ctx, func(cl *ethclient.Client) error {
		return cl.SendTransaction(ctx, signedTx)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmchain: send transaction: %w", err)
	}
	return signedTx.Hash(), nil
}

// SubmitValidator calls the validator contract's submitValidator write
// method with the attestation's packed signatures.
func (c *Chain) SubmitValidator(ctx context.Context, chainID *big.Int, validator [32]byte, signer common.Address, weight *big.Int, epoch uint32, rewardTo common.Address, packedSignatures []byte) (common.Hash, error) {
	data, err := c.abis.PackSubmitValidator(validator, signer, weight, epoch, rewardTo, packedSignatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmchain: pack submitValidator: %w", err)
	}
	return c.sendSigned(ctx, c.validator, data, chainID)
}

// Upgrade calls the core contract's upgrade write method.
func (c *Chain) Upgrade(ctx context.Context, chainID *big.Int, newImplementation common.Address, nonce *big.Int, packedSignatures []byte) (common.Hash, error) {
	data, err := c.abis.PackUpgrade(newImplementation, nonce, packedSignatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmchain: pack upgrade: %w", err)
	}
	return c.sendSigned(ctx, c.core, data, chainID)
}

// UpdateTokenVolatile calls the core contract's updateTokenVolatile
// write method.
func (c *Chain) UpdateTokenVolatile(ctx context.Context, chainID *big.Int, token common.Address, volatile bool, nonce *big.Int, packedSignatures []byte) (common.Hash, error) {
	data, err := c.abis.PackUpdateTokenVolatile(token, volatile, nonce, packedSignatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evmchain: pack updateTokenVolatile: %w", err)
	}
	return c.sendSigned(ctx, c.core, data, chainID)
}

// Timestamps exposes the chain's block-timestamp cache to the tracker's
// transaction_timestamp handler.
func (c *Chain) Timestamps() *TimestampCache { return c.timestamps }
