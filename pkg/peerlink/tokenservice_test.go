package peerlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/raicoin/validator-node/pkg/dispatcher"
)

func TestTokenServiceClientRegistersOnConnect(t *testing.T) {
	registered := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err == nil {
			registered <- msg
		}
		<-r.Context().Done()
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	correlation := dispatcher.NewCorrelationMap(10 * time.Second)
	client, err := NewTokenServiceClient(wsURL, []string{"chain_id"}, []string{"token_symbol"}, correlation)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case msg := <-registered:
		require.Equal(t, "register", msg["action"])
	case <-time.After(2 * time.Second):
		t.Fatal("client did not register")
	}
}

func TestTokenServiceClientResolvesQueryReply(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var register map[string]any
		require.NoError(t, conn.ReadJSON(&register))

		var query map[string]any
		require.NoError(t, conn.ReadJSON(&query))

		require.NoError(t, conn.WriteJSON(map[string]any{
			"action":     "token_symbol_ack",
			"request_id": query["request_id"],
			"symbol":     "WRAI",
		}))
		<-r.Context().Done()
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	correlation := dispatcher.NewCorrelationMap(10 * time.Second)
	client, err := NewTokenServiceClient(wsURL, nil, []string{"token_symbol"}, correlation)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.conn != nil
	}, 2*time.Second, 10*time.Millisecond)

	replyCh := make(chan TokenQueryReply, 1)
	id, err := dispatcher.NewCorrelationID()
	require.NoError(t, err)
	correlation.Insert(id, time.Now(), func(payload any) {
		replyCh <- payload.(TokenQueryReply)
	})
	require.NoError(t, client.send(map[string]any{
		"action":     "token_symbol",
		"token":      "0xabc",
		"request_id": id.String(),
	}))

	select {
	case reply := <-replyCh:
		require.Equal(t, "token_symbol_ack", reply.Action)
		require.Equal(t, "WRAI", reply.Body["symbol"])
	case <-time.After(2 * time.Second):
		t.Fatal("query was not resolved")
	}
}
