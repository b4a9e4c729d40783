package dispatcher

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handler resolves the synchronous read actions and originates the
// asynchronous signing requests. Implemented by the validator
// supervisor, which owns the per-chain adapters these calls read from.
type Handler interface {
	ChainInfo(chainId uint32) (map[string]any, error)
	ChainHeadHeight(chainId uint32) (uint64, error)
	TokenSymbol(chainId uint32, token string) (string, error)
	TokenName(chainId uint32, token string) (string, error)
	TokenType(chainId uint32, token string) (string, error)
	TokenDecimals(chainId uint32, token string) (uint8, error)
	TokenWrapped(chainId uint32, token string) (bool, error)
	CreationParameters(chainId uint32, originalChainId uint32, originalContract string) (map[string]any, error)
	TransactionTimestamp(chainId uint32, height uint64, txnHash string) (map[string]any, error)

	SendTransferSign(req Request, id CorrelationID) error
	SendCreationSign(req Request, id CorrelationID) error
}

// Server is the light-client-facing WebSocket listener.
type Server struct {
	handler     Handler
	correlation *CorrelationMap
	upgrader    websocket.Upgrader
	logger      *log.Logger

	mu   sync.Mutex
	subs map[*client]*Subscription
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewServer constructs a dispatcher Server.
func NewServer(handler Handler, correlation *CorrelationMap) *Server {
	return &Server{
		handler:     handler,
		correlation: correlation,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.New(os.Stdout, "[Dispatcher] ", log.LstdFlags),
		subs:   make(map[*client]*Subscription),
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// client disconnects or sends a malformed frame.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}
	defer s.disconnect(c)
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		s.dispatch(c, req)
	}
}

func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	delete(s.subs, c)
	s.mu.Unlock()
	c.conn.Close()
}

func (s *Server) dispatch(c *client, req Request) {
	switch req.Action {
	case ActionServiceSubscribe:
		sub, err := ParseSubscription(req.Filters)
		if err != nil {
			c.writeJSON(errorActionNotAllowed)
			return
		}
		s.mu.Lock()
		s.subs[c] = sub
		s.mu.Unlock()
		c.writeJSON(map[string]string{"action": string(ActionServiceSubscribe)})

	case ActionChainInfo:
		body, err := s.handler.ChainInfo(req.ChainId)
		s.replyRead(c, req.Action, req.ChainId, body, err)

	case ActionChainHeadHeight:
		height, err := s.handler.ChainHeadHeight(req.ChainId)
		s.replyRead(c, req.Action, req.ChainId, map[string]any{"height": height}, err)

	case ActionTokenSymbol:
		v, err := s.handler.TokenSymbol(req.ChainId, req.Token)
		s.replyRead(c, req.Action, req.ChainId, map[string]any{"token": req.Token, "symbol": v}, err)

	case ActionTokenName:
		v, err := s.handler.TokenName(req.ChainId, req.Token)
		s.replyRead(c, req.Action, req.ChainId, map[string]any{"token": req.Token, "name": v}, err)

	case ActionTokenType:
		v, err := s.handler.TokenType(req.ChainId, req.Token)
		s.replyRead(c, req.Action, req.ChainId, map[string]any{"token": req.Token, "type": v}, err)

	case ActionTokenDecimals:
		v, err := s.handler.TokenDecimals(req.ChainId, req.Token)
		s.replyRead(c, req.Action, req.ChainId, map[string]any{"token": req.Token, "decimals": v}, err)

	case ActionTokenWrapped:
		v, err := s.handler.TokenWrapped(req.ChainId, req.Token)
		s.replyRead(c, req.Action, req.ChainId, map[string]any{"token": req.Token, "wrapped": v}, err)

	case ActionCreationParameters:
		body, err := s.handler.CreationParameters(req.ChainId, req.OriginalChainId, req.OriginalContract)
		s.replyRead(c, req.Action, req.ChainId, body, err)

	case ActionTransactionTimestamp:
		body, err := s.handler.TransactionTimestamp(req.ChainId, req.Height, req.TxnHash)
		s.replyRead(c, req.Action, req.ChainId, body, err)

	case ActionSignTransfer:
		s.signAsync(c, req, s.handler.SendTransferSign)

	case ActionSignCreation:
		s.signAsync(c, req, s.handler.SendCreationSign)

	default:
		c.writeJSON(errorActionNotAllowed)
	}
}

func (s *Server) replyRead(c *client, action Action, chainId uint32, body map[string]any, err error) {
	if err != nil {
		c.writeJSON(map[string]string{"error": err.Error()})
		return
	}
	if body == nil {
		body = map[string]any{}
	}
	body["action"] = string(action)
	body["chain_id"] = chainId
	c.writeJSON(body)
}

// signAsync allocates a correlation id, registers this client's
// connection as the eventual reply target, and asks send to originate
// the cross-chain request — acking {pending:""} immediately per §4.7.
func (s *Server) signAsync(c *client, req Request, send func(Request, CorrelationID) error) {
	id, err := NewCorrelationID()
	if err != nil {
		c.writeJSON(map[string]string{"error": err.Error()})
		return
	}
	s.correlation.Insert(id, time.Now(), func(payload any) {
		c.writeJSON(payload)
	})
	if err := send(req, id); err != nil {
		s.correlation.Resolve(id, nil)
		c.writeJSON(map[string]string{"error": err.Error()})
		return
	}
	c.writeJSON(map[string]string{"pending": ""})
}

// Broadcast pushes a chain_info notification to every subscriber whose
// filters match chainId.
func (s *Server) Broadcast(chainId uint32, info map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c, sub := range s.subs {
		if !sub.Matches(chainId) {
			continue
		}
		body := make(map[string]any, len(info)+2)
		for k, v := range info {
			body[k] = v
		}
		body["action"] = string(ActionChainInfo)
		body["chain_id"] = chainId
		c.writeJSON(body)
	}
}

// GCLoop runs the 10s correlation-map garbage-collection tick until ctx
// is cancelled.
func (s *Server) GCLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.correlation.GC(now); n > 0 {
				s.logger.Printf("correlation GC purged %d stale entries", n)
			}
		}
	}
}
