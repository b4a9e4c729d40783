// Package dispatcher implements the light-client-facing WebSocket
// request/reply protocol: synchronous chain/token reads, asynchronous
// signing requests matched to their reply via a correlation map, and
// chain_info subscriptions.
package dispatcher

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is one of the client-facing WS message kinds.
type Action string

const (
	ActionServiceSubscribe     Action = "service_subscribe"
	ActionChainInfo            Action = "chain_info"
	ActionChainHeadHeight      Action = "chain_head_height"
	ActionSignTransfer         Action = "sign_transfer"
	ActionSignCreation         Action = "sign_creation"
	ActionTokenSymbol          Action = "token_symbol"
	ActionTokenName            Action = "token_name"
	ActionTokenType            Action = "token_type"
	ActionTokenDecimals        Action = "token_decimals"
	ActionTokenWrapped         Action = "token_wrapped"
	ActionCreationParameters   Action = "creation_parameters"
	ActionTransactionTimestamp Action = "transaction_timestamp"
)

// Operation is a sign_transfer request's transfer kind.
type Operation string

const (
	OperationMap    Operation = "map"
	OperationUnmap  Operation = "unmap"
	OperationWrap   Operation = "wrap"
	OperationUnwrap Operation = "unwrap"
)

// Filter is one service_subscribe filter term.
type Filter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Request is a decoded client message. Not every field is populated for
// every action; handling code reads only the fields its action uses.
type Request struct {
	Action           Action    `json:"action"`
	ChainId          uint32    `json:"chain_id,omitempty"`
	Validator        string    `json:"validator,omitempty"`
	Account          string    `json:"account,omitempty"`
	Height           uint64    `json:"height,omitempty"`
	Operation        Operation `json:"operation,omitempty"`
	OriginalChainId  uint32    `json:"original_chain_id,omitempty"`
	OriginalContract string    `json:"original_contract,omitempty"`
	Token            string    `json:"token,omitempty"`
	TxnHash          string    `json:"txn_hash,omitempty"`
	TxnHeight        uint64    `json:"txn_height,omitempty"`
	Sender           string    `json:"sender,omitempty"`
	Recipient        string    `json:"recipient,omitempty"`
	Amount           string    `json:"amount,omitempty"`
	TokenId          string    `json:"token_id,omitempty"`
	Name             string    `json:"name,omitempty"`
	Symbol           string    `json:"symbol,omitempty"`
	OriginalChain    string    `json:"original_chain,omitempty"`
	Decimals         uint8     `json:"decimals,omitempty"`
	Filters          []Filter  `json:"filters,omitempty"`
}

var errorActionNotAllowed = map[string]string{"error": "action not allowed"}

// knownFilterKeys is the declared service_subscribe filter whitelist.
var knownFilterKeys = map[string]bool{"chain_id": true}

// Subscription is one client's declared service_subscribe interest.
type Subscription struct {
	filters map[string]string
}

// ParseSubscription validates filters against the declared filter set
// and normalizes values to lower case.
func ParseSubscription(filters []Filter) (*Subscription, error) {
	m := make(map[string]string, len(filters))
	for _, f := range filters {
		if !knownFilterKeys[f.Key] {
			return nil, fmt.Errorf("dispatcher: unknown filter key %q", f.Key)
		}
		m[f.Key] = strings.ToLower(f.Value)
	}
	return &Subscription{filters: m}, nil
}

// Matches reports whether a chain_info notification for chainId should
// be pushed to this subscriber.
func (s *Subscription) Matches(chainId uint32) bool {
	v, ok := s.filters["chain_id"]
	if !ok {
		return true
	}
	return v == strconv.FormatUint(uint64(chainId), 10)
}
