package peerlink

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raicoin/validator-node/pkg/dispatcher"
)

// reconnectInterval is how often TokenServiceClient retries a dead
// connection to the token-metadata service.
const reconnectInterval = 5 * time.Second

// TokenQueryReply is the payload resolved for an outstanding token-service
// query, keyed by the request's correlation id.
type TokenQueryReply struct {
	Action string
	Body   map[string]any
}

// TokenServiceClient maintains the outbound WebSocket connection to the
// remote token-metadata service, reconnecting on failure and resolving
// queries through the shared dispatcher correlation map.
type TokenServiceClient struct {
	url         string
	filters     []string
	actions     []string
	correlation *dispatcher.CorrelationMap
	logger      *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewTokenServiceClient builds a client that will dial rawURL, declaring
// the chain_info filters it wants pushed and the query actions it will
// issue, resolving replies through correlation.
func NewTokenServiceClient(rawURL string, filters, actions []string, correlation *dispatcher.CorrelationMap) (*TokenServiceClient, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("peerlink: invalid token service url: %w", err)
	}
	return &TokenServiceClient{
		url:         rawURL,
		filters:     filters,
		actions:     actions,
		correlation: correlation,
		logger:      log.New(os.Stdout, "[TokenService] ", log.LstdFlags),
	}, nil
}

// Run dials the token service and reads until ctx is cancelled,
// reconnecting every reconnectInterval while the connection is down.
func (c *TokenServiceClient) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Printf("dial failed: %v", err)
			if !sleepOrDone(ctx, reconnectInterval) {
				return
			}
			continue
		}

		c.setConn(conn)
		if err := c.register(); err != nil {
			c.logger.Printf("register failed: %v", err)
			conn.Close()
			c.setConn(nil)
			if !sleepOrDone(ctx, reconnectInterval) {
				return
			}
			continue
		}

		c.readLoop(ctx, conn)
		c.setConn(nil)
		if !sleepOrDone(ctx, reconnectInterval) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *TokenServiceClient) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *TokenServiceClient) register() error {
	return c.send(map[string]any{
		"action":  "register",
		"filters": c.filters,
		"actions": c.actions,
	})
}

func (c *TokenServiceClient) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	return conn.WriteJSON(v)
}

func (c *TokenServiceClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		var body map[string]any
		if err := conn.ReadJSON(&body); err != nil {
			c.logger.Printf("connection lost: %v", err)
			conn.Close()
			return
		}
		c.handle(body)
	}
}

func (c *TokenServiceClient) handle(body map[string]any) {
	action, _ := body["action"].(string)
	requestID, _ := body["request_id"].(string)
	if requestID == "" {
		return
	}
	id, err := parseCorrelationID(requestID)
	if err != nil {
		c.logger.Printf("unparseable request_id %q: %v", requestID, err)
		return
	}
	c.correlation.Resolve(id, TokenQueryReply{Action: action, Body: body})
}

func parseCorrelationID(s string) (dispatcher.CorrelationID, error) {
	var id dispatcher.CorrelationID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("peerlink: request_id wrong length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Query issues a token-service request tagged with a fresh random
// correlation id and returns that id so the caller can register a
// resolver on the shared correlation map. The request has already been
// sent when Query returns, so a resolver is always registered after
// sending.
func (c *TokenServiceClient) Query(fields map[string]any) (dispatcher.CorrelationID, error) {
	id, err := dispatcher.NewCorrelationID()
	if err != nil {
		return id, err
	}
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["request_id"] = id.String()

	return id, c.send(body)
}
