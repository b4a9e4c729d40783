package dispatcher

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	sentTransfer chan Request
	transferID   CorrelationID
	correlation  *CorrelationMap
}

func (f *fakeHandler) ChainInfo(chainId uint32) (map[string]any, error) {
	return map[string]any{"height": uint64(100)}, nil
}
func (f *fakeHandler) ChainHeadHeight(chainId uint32) (uint64, error) { return 42, nil }
func (f *fakeHandler) TokenSymbol(chainId uint32, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing token")
	}
	return "WRAI", nil
}
func (f *fakeHandler) TokenName(chainId uint32, token string) (string, error) { return "Wrapped Rai", nil }
func (f *fakeHandler) TokenType(chainId uint32, token string) (string, error) { return "erc20", nil }
func (f *fakeHandler) TokenDecimals(chainId uint32, token string) (uint8, error) { return 18, nil }
func (f *fakeHandler) TokenWrapped(chainId uint32, token string) (bool, error)   { return true, nil }
func (f *fakeHandler) CreationParameters(chainId, originalChainId uint32, originalContract string) (map[string]any, error) {
	return map[string]any{"decimals": uint8(18)}, nil
}
func (f *fakeHandler) TransactionTimestamp(chainId uint32, height uint64, txnHash string) (map[string]any, error) {
	return map[string]any{"status": "confirmed"}, nil
}
func (f *fakeHandler) SendTransferSign(req Request, id CorrelationID) error {
	f.transferID = id
	f.sentTransfer <- req
	return nil
}
func (f *fakeHandler) SendCreationSign(req Request, id CorrelationID) error {
	return nil
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerUnknownAction(t *testing.T) {
	handler := &fakeHandler{sentTransfer: make(chan Request, 1)}
	srv := NewServer(handler, NewCorrelationMap(10*time.Second))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts.URL)
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "not_a_real_action"}))

	var resp map[string]string
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "action not allowed", resp["error"])
}

func TestServerChainInfo(t *testing.T) {
	handler := &fakeHandler{sentTransfer: make(chan Request, 1)}
	srv := NewServer(handler, NewCorrelationMap(10*time.Second))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts.URL)
	require.NoError(t, conn.WriteJSON(Request{Action: ActionChainInfo, ChainId: 4}))

	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "chain_info", resp["action"])
	require.EqualValues(t, 4, resp["chain_id"])
	require.EqualValues(t, 100, resp["height"])
}

func TestServerSignTransferPendingThenCorrelatedReply(t *testing.T) {
	handler := &fakeHandler{sentTransfer: make(chan Request, 1)}
	correlation := NewCorrelationMap(10 * time.Second)
	srv := NewServer(handler, correlation)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts.URL)
	require.NoError(t, conn.WriteJSON(Request{Action: ActionSignTransfer, ChainId: 4, Validator: "rai_1", Operation: OperationMap}))

	var pending map[string]string
	require.NoError(t, conn.ReadJSON(&pending))
	require.Equal(t, "", pending["pending"])

	select {
	case <-handler.sentTransfer:
	case <-time.After(time.Second):
		t.Fatal("handler.SendTransferSign was not called")
	}

	require.True(t, correlation.Resolve(handler.transferID, map[string]string{"signature": "0xsig"}))

	var reply map[string]string
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "0xsig", reply["signature"])
}

func TestServerServiceSubscribeAndBroadcast(t *testing.T) {
	handler := &fakeHandler{sentTransfer: make(chan Request, 1)}
	srv := NewServer(handler, NewCorrelationMap(10*time.Second))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts.URL)
	require.NoError(t, conn.WriteJSON(Request{Action: ActionServiceSubscribe, Filters: []Filter{{Key: "chain_id", Value: "4"}}}))

	var ack map[string]string
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "service_subscribe", ack["action"])

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.subs) == 1
	}, time.Second, 10*time.Millisecond)

	srv.Broadcast(3, map[string]any{"height": uint64(1)})
	srv.Broadcast(4, map[string]any{"height": uint64(200)})

	var notice map[string]any
	require.NoError(t, conn.ReadJSON(&notice))
	require.EqualValues(t, 4, notice["chain_id"])
	require.EqualValues(t, 200, notice["height"])
}
