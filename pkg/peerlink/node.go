// Package peerlink implements the two long-lived peer WebSocket
// relationships a validator maintains: the single inbound connection
// from the locally-attached native-chain node, and the reconnecting
// outbound connection to the remote token-metadata service.
package peerlink

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/raicoin/validator-node/pkg/crosschain"
)

// ErrNotAttached is returned by NodeLink sends when no node connection
// is currently attached.
var ErrNotAttached = fmt.Errorf("peerlink: no node attached")

// WeightSnapshot is the node's epoch-tagged weight table, refreshed by
// weight_snapshot/weight_snapshot_ack.
type WeightSnapshot struct {
	Epoch   uint32
	Weights map[[32]byte]*big.Int
}

// Router is the validator-supervisor side of inbound node messages.
type Router interface {
	OnAccount(account [32]byte, accountHex string)
	OnWeightSnapshot(snapshot WeightSnapshot)
	OnCrossChain(chainId uint32, envelope crosschain.Envelope, sourceHex, destinationHex string)
	OnWeightQueryAck(chainId uint32, replier [32]byte, weight *big.Int)
	OnBindQueryAck(chainId uint32, bound bool, signer string)
}

// NodeLink holds the single inbound connection from the native-chain
// node, keyed by source IP at the HTTP layer (Attach is only called
// once the caller has verified the remote address).
type NodeLink struct {
	mu         sync.Mutex
	conn       *websocket.Conn
	router     Router
	accountSet bool
	snapshot   WeightSnapshot
	logger     *log.Logger
}

// NewNodeLink constructs a NodeLink that dispatches inbound messages to
// router.
func NewNodeLink(router Router) *NodeLink {
	return &NodeLink{
		router: router,
		logger: log.New(os.Stdout, "[NodeLink] ", log.LstdFlags),
	}
}

// SetRouter installs the inbound message router. Constructing the
// supervisor that implements Router requires the NodeLink to already
// exist (it is one of the supervisor's own dependencies), so router
// wiring happens in this second step rather than at NewNodeLink time.
func (n *NodeLink) SetRouter(router Router) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.router = router
}

// Attach installs conn as the node connection, replacing and closing
// any previous one — exactly one node is attached at a time.
func (n *NodeLink) Attach(conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
	}
	n.conn = conn
	n.accountSet = false
	n.snapshot = WeightSnapshot{}
}

// Detach clears the link if conn is still the attached connection.
func (n *NodeLink) Detach(conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == conn {
		n.conn = nil
	}
}

// Attached reports whether a node connection is currently installed.
func (n *NodeLink) Attached() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil
}

func (n *NodeLink) send(v any) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	return conn.WriteJSON(v)
}

// Sync implements the 5s sync task: request the account if unset, and
// refresh the weight snapshot if its epoch is stale.
func (n *NodeLink) Sync(currentEpoch uint32) error {
	n.mu.Lock()
	needAccount := !n.accountSet
	needSnapshot := n.snapshot.Weights == nil || n.snapshot.Epoch != currentEpoch
	n.mu.Unlock()

	if needAccount {
		if err := n.send(map[string]string{"action": "node_account"}); err != nil {
			return err
		}
	}
	if needSnapshot {
		return n.send(map[string]string{"action": "weight_snapshot"})
	}
	return nil
}

// BindQuery asks the node whether validatorHex is the bound signer for
// chainId.
func (n *NodeLink) BindQuery(chainId uint32, validatorHex string) error {
	return n.send(map[string]string{
		"action":    "bind_query",
		"chain_id":  strconv.FormatUint(uint64(chainId), 10),
		"validator": validatorHex,
	})
}

// WeightQuery asks the node for replier's weight as seen by
// representative, tagging the request with chainId encoded as a
// 32-byte hex request id.
func (n *NodeLink) WeightQuery(chainId uint32, representative, replier string) error {
	return n.send(map[string]string{
		"action":         "weight_query",
		"request_id":     fmt.Sprintf("%064X", chainId),
		"representative": representative,
		"replier":        replier,
	})
}

// CrossChain relays an encoded cross-chain envelope through the node to
// destination.
func (n *NodeLink) CrossChain(source, destination string, chainId uint32, payload []byte) error {
	return n.send(map[string]string{
		"action":      "cross_chain",
		"source":      source,
		"destination": destination,
		"chain_id":    strconv.FormatUint(uint64(chainId), 10),
		"payload":     hex.EncodeToString(payload),
	})
}

type nodeMessage struct {
	Action     string `json:"action"`
	Account    string `json:"account"`
	AccountHex string `json:"account_hex"`
	Epoch      string `json:"epoch"`
	Weights    []struct {
		RepresentativeHex string `json:"representative_hex"`
		Weight            string `json:"weight"`
	} `json:"weights"`
	ChainId        string `json:"chain_id"`
	Source         string `json:"source"`
	SourceHex      string `json:"source_hex"`
	Destination    string `json:"destination"`
	DestinationHex string `json:"destination_hex"`
	Payload        string `json:"payload"`
	Replier        string `json:"replier"`
	ReplierHex     string `json:"replier_hex"`
	Weight         string `json:"weight"`
	Bound          bool   `json:"bound"`
	Signer         string `json:"signer"`
}

// HandleMessage decodes one inbound JSON frame from the node and routes
// it to the configured Router.
func (n *NodeLink) HandleMessage(raw []byte) error {
	var msg nodeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("peerlink: decode node message: %w", err)
	}

	switch msg.Action {
	case "node_account_ack":
		account, err := decodeHex32(msg.AccountHex)
		if err != nil {
			return err
		}
		n.mu.Lock()
		n.accountSet = true
		n.mu.Unlock()
		n.router.OnAccount(account, msg.AccountHex)

	case "weight_snapshot_ack":
		epoch, err := strconv.ParseUint(msg.Epoch, 10, 32)
		if err != nil {
			return fmt.Errorf("peerlink: weight_snapshot_ack epoch: %w", err)
		}
		weights := make(map[[32]byte]*big.Int, len(msg.Weights))
		for _, w := range msg.Weights {
			id, err := decodeHex32(w.RepresentativeHex)
			if err != nil {
				return err
			}
			value, ok := new(big.Int).SetString(w.Weight, 10)
			if !ok {
				return fmt.Errorf("peerlink: invalid weight %q", w.Weight)
			}
			weights[id] = value
		}
		snapshot := WeightSnapshot{Epoch: uint32(epoch), Weights: weights}
		n.mu.Lock()
		n.snapshot = snapshot
		n.mu.Unlock()
		n.router.OnWeightSnapshot(snapshot)

	case "cross_chain":
		chainId, err := strconv.ParseUint(msg.ChainId, 10, 32)
		if err != nil {
			return fmt.Errorf("peerlink: cross_chain chain_id: %w", err)
		}
		payload, err := hex.DecodeString(msg.Payload)
		if err != nil {
			return fmt.Errorf("peerlink: cross_chain payload: %w", err)
		}
		envelope, err := crosschain.Decode(payload)
		if err != nil {
			return err
		}
		n.router.OnCrossChain(uint32(chainId), envelope, msg.SourceHex, msg.DestinationHex)

	case "weight_query_ack":
		chainId, err := strconv.ParseUint(msg.ChainId, 10, 32)
		if err != nil {
			return fmt.Errorf("peerlink: weight_query_ack chain_id: %w", err)
		}
		replier, err := decodeHex32(msg.ReplierHex)
		if err != nil {
			return err
		}
		weight, ok := new(big.Int).SetString(msg.Weight, 10)
		if !ok {
			return fmt.Errorf("peerlink: invalid weight %q", msg.Weight)
		}
		n.router.OnWeightQueryAck(uint32(chainId), replier, weight)

	case "bind_query_ack":
		chainId, err := strconv.ParseUint(msg.ChainId, 10, 32)
		if err != nil {
			return fmt.Errorf("peerlink: bind_query_ack chain_id: %w", err)
		}
		n.router.OnBindQueryAck(uint32(chainId), msg.Bound, msg.Signer)

	case "keeplive":
		// no state to update; presence alone keeps the connection live.

	default:
		n.logger.Printf("unexpected node action: %s", msg.Action)
	}
	return nil
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	trimmed := s
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("peerlink: invalid hex %q: %w", s, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("peerlink: expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
