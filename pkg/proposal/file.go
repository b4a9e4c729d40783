// Package proposal loads the on-disk governance proposal list and runs
// the per-chain collect-and-execute submission loop that turns a
// nonce-matched proposal into a signed upgrade/updateTokenVolatile
// contract call.
package proposal

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raicoin/validator-node/pkg/chainid"
)

// Method is the contract call a proposal ultimately submits.
type Method string

const (
	MethodUpgrade              Method = "upgrade"
	MethodUpdateTokenVolatile  Method = "updateTokenVolatile"
)

// UpgradeParams is the decoded params object for a MethodUpgrade proposal.
type UpgradeParams struct {
	Impl  common.Address
	Nonce *big.Int
}

// VolatileParams is the decoded params object for a
// MethodUpdateTokenVolatile proposal.
type VolatileParams struct {
	Token    common.Address
	Volatile bool
	Nonce    *big.Int
}

// Proposal is one entry of the proposal file, with its time window
// already converted to unix seconds.
type Proposal struct {
	ID             uint32
	ChainId        chainid.ChainId
	Contract       common.Address
	Method         Method
	Upgrade        *UpgradeParams
	Volatile       *VolatileParams
	BeginTimestamp int64
	EndTimestamp   int64
}

// Nonce returns the proposal's target contract nonce regardless of method.
func (p Proposal) Nonce() *big.Int {
	if p.Upgrade != nil {
		return p.Upgrade.Nonce
	}
	if p.Volatile != nil {
		return p.Volatile.Nonce
	}
	return nil
}

// InWindow reports whether now falls within [BeginTimestamp, EndTimestamp].
func (p Proposal) InWindow(now int64) bool {
	return now >= p.BeginTimestamp && now <= p.EndTimestamp
}

type rawProposal struct {
	ID        uint32          `json:"id"`
	ChainId   uint32          `json:"chain_id"`
	Contract  string          `json:"contract"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	BeginTime string          `json:"begin_time"`
	EndTime   string          `json:"end_time"`
}

type rawUpgradeParams struct {
	Impl  string         `json:"impl"`
	Nonce flexibleBigInt `json:"nonce"`
}

type rawVolatileParams struct {
	Token    string         `json:"token"`
	Volatile bool           `json:"volatile"`
	Nonce    flexibleBigInt `json:"nonce"`
}

// flexibleBigInt unmarshals a JSON integer given as either a number or a
// quoted string — the proposal file schema allows nonce to be either.
type flexibleBigInt struct{ *big.Int }

func (b *flexibleBigInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("proposal: invalid integer %q", s)
	}
	b.Int = v
	return nil
}

// timeLayout matches the proposal file's "YYYY-MM-DD HH:MM:SSUTC" fields;
// the literal "UTC" suffix is stripped before parsing and the result is
// interpreted in UTC.
const timeLayout = "2006-01-02 15:04:05"

func parseProposalTime(s string) (int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(s), "UTC")
	t, err := time.ParseInLocation(timeLayout, trimmed, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("proposal: invalid time %q: %w", s, err)
	}
	return t.Unix(), nil
}

// Parse decodes a proposal file's JSON array into a per-chain,
// per-proposal-id table. An empty body is a valid, empty proposal list.
func Parse(data []byte) (map[chainid.ChainId]map[uint32]Proposal, error) {
	table := make(map[chainid.ChainId]map[uint32]Proposal)
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return table, nil
	}

	var raw []rawProposal
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("proposal: parse file: %w", err)
	}

	for _, r := range raw {
		begin, err := parseProposalTime(r.BeginTime)
		if err != nil {
			return nil, err
		}
		end, err := parseProposalTime(r.EndTime)
		if err != nil {
			return nil, err
		}

		p := Proposal{
			ID:             r.ID,
			ChainId:        chainid.ChainId(r.ChainId),
			Contract:       common.HexToAddress(r.Contract),
			Method:         Method(r.Method),
			BeginTimestamp: begin,
			EndTimestamp:   end,
		}

		switch p.Method {
		case MethodUpgrade:
			var params rawUpgradeParams
			if err := json.Unmarshal(r.Params, &params); err != nil {
				return nil, fmt.Errorf("proposal: id %d params: %w", r.ID, err)
			}
			p.Upgrade = &UpgradeParams{Impl: common.HexToAddress(params.Impl), Nonce: params.Nonce.Int}
		case MethodUpdateTokenVolatile:
			var params rawVolatileParams
			if err := json.Unmarshal(r.Params, &params); err != nil {
				return nil, fmt.Errorf("proposal: id %d params: %w", r.ID, err)
			}
			p.Volatile = &VolatileParams{Token: common.HexToAddress(params.Token), Volatile: params.Volatile, Nonce: params.Nonce.Int}
		default:
			return nil, fmt.Errorf("proposal: id %d: unknown method %q", r.ID, r.Method)
		}

		chainTable, ok := table[p.ChainId]
		if !ok {
			chainTable = make(map[uint32]Proposal)
			table[p.ChainId] = chainTable
		}
		chainTable[p.ID] = p
	}
	return table, nil
}
