package peerlink

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/raicoin/validator-node/pkg/crosschain"
)

type recordingRouter struct {
	account       [32]byte
	accountHex    string
	accountCalled bool
	snapshot      WeightSnapshot
	crossChain    *crosschain.Envelope
	weightQuery   *big.Int
	bound         *bool
}

func (r *recordingRouter) OnAccount(account [32]byte, accountHex string) {
	r.account = account
	r.accountHex = accountHex
	r.accountCalled = true
}
func (r *recordingRouter) OnWeightSnapshot(snapshot WeightSnapshot) { r.snapshot = snapshot }
func (r *recordingRouter) OnCrossChain(chainId uint32, envelope crosschain.Envelope, sourceHex, destinationHex string) {
	r.crossChain = &envelope
}
func (r *recordingRouter) OnWeightQueryAck(chainId uint32, replier [32]byte, weight *big.Int) {
	r.weightQuery = weight
}
func (r *recordingRouter) OnBindQueryAck(chainId uint32, bound bool, signer string) {
	r.bound = &bound
}

func newTestServer(t *testing.T, handle func(conn *websocket.Conn)) (string, *httptest.Server) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return wsURL, ts
}

func dialNode(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNodeLinkSendsNodeAccountWhenUnset(t *testing.T) {
	received := make(chan map[string]string, 1)
	wsURL, _ := newTestServer(t, func(conn *websocket.Conn) {
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	})

	link := NewNodeLink(&recordingRouter{})
	conn := dialNode(t, wsURL)
	link.Attach(conn)

	require.NoError(t, link.Sync(1))

	select {
	case msg := <-received:
		require.Equal(t, "node_account", msg["action"])
	case <-time.After(time.Second):
		t.Fatal("node_account was not sent")
	}
}

func TestNodeLinkSendNotAttached(t *testing.T) {
	link := NewNodeLink(&recordingRouter{})
	require.ErrorIs(t, link.Sync(1), ErrNotAttached)
}

func TestNodeLinkHandleAccountAck(t *testing.T) {
	router := &recordingRouter{}
	link := NewNodeLink(router)

	accountHex := strings.Repeat("ab", 32)
	err := link.HandleMessage([]byte(`{"action":"node_account_ack","account_hex":"` + accountHex + `"}`))
	require.NoError(t, err)
	require.True(t, router.accountCalled)
	require.Equal(t, accountHex, router.accountHex)
}

func TestNodeLinkHandleWeightSnapshotAck(t *testing.T) {
	router := &recordingRouter{}
	link := NewNodeLink(router)

	rep := strings.Repeat("cd", 32)
	msg := `{"action":"weight_snapshot_ack","epoch":"7","weights":[{"representative_hex":"` + rep + `","weight":"500"}]}`
	require.NoError(t, link.HandleMessage([]byte(msg)))
	require.Equal(t, uint32(7), router.snapshot.Epoch)
	require.Len(t, router.snapshot.Weights, 1)
}

func TestNodeLinkHandleCrossChain(t *testing.T) {
	router := &recordingRouter{}
	link := NewNodeLink(router)

	payload, err := crosschain.Encode(crosschain.Envelope{
		Type:  crosschain.WeightSign,
		IsReq: true,
		Body: crosschain.WeightSignMessage{
			Weight: big.NewInt(1),
			Epoch:  2,
		},
	})
	require.NoError(t, err)

	frame := map[string]string{
		"action":   "cross_chain",
		"chain_id": "4",
		"payload":  hex.EncodeToString(payload),
	}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	require.NoError(t, link.HandleMessage(raw))
	require.NotNil(t, router.crossChain)
	require.Equal(t, crosschain.WeightSign, router.crossChain.Type)
}

func TestNodeLinkHandleWeightQueryAck(t *testing.T) {
	router := &recordingRouter{}
	link := NewNodeLink(router)

	replier := strings.Repeat("11", 32)
	msg := `{"action":"weight_query_ack","chain_id":"4","replier_hex":"` + replier + `","weight":"900"}`
	require.NoError(t, link.HandleMessage([]byte(msg)))
	require.NotNil(t, router.weightQuery)
	require.Equal(t, "900", router.weightQuery.String())
}

func TestNodeLinkHandleBindQueryAck(t *testing.T) {
	router := &recordingRouter{}
	link := NewNodeLink(router)

	require.NoError(t, link.HandleMessage([]byte(`{"action":"bind_query_ack","chain_id":"4","bound":true,"signer":"rai_1"}`)))
	require.NotNil(t, router.bound)
	require.True(t, *router.bound)
}

func TestNodeLinkWeightQueryRequestIDIsChainDerived(t *testing.T) {
	received := make(chan map[string]string, 1)
	wsURL, _ := newTestServer(t, func(conn *websocket.Conn) {
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	})

	link := NewNodeLink(&recordingRouter{})
	conn := dialNode(t, wsURL)
	link.Attach(conn)

	require.NoError(t, link.WeightQuery(4, "rai_rep", "rai_replier"))

	select {
	case msg := <-received:
		require.Equal(t, "weight_query", msg["action"])
		require.Equal(t, fmt.Sprintf("%064X", 4), msg["request_id"])
	case <-time.After(time.Second):
		t.Fatal("weight_query was not sent")
	}
}
